package connector

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"go.uber.org/zap"

	"github.com/cloudpivot/metamirror/pkg/awsx"
	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/logger"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// AthenaAPI is the subset of the Athena client used by the catalog and query
// error connectors
type AthenaAPI interface {
	ListTableMetadata(ctx context.Context, params *athena.ListTableMetadataInput, optFns ...func(*athena.Options)) (*athena.ListTableMetadataOutput, error)
	ListQueryExecutions(ctx context.Context, params *athena.ListQueryExecutionsInput, optFns ...func(*athena.Options)) (*athena.ListQueryExecutionsOutput, error)
	BatchGetQueryExecution(ctx context.Context, params *athena.BatchGetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.BatchGetQueryExecutionOutput, error)
}

// CatalogTables lists table metadata for one (catalog, database) pair. This
// is a point-in-time catalog listing, materialized as a full table replace.
type CatalogTables struct {
	api AthenaAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewCatalogTables creates the catalog table listing connector
func NewCatalogTables(api AthenaAPI, pg *pager.Pager) *CatalogTables {
	return &CatalogTables{api: api, pg: pg, log: logger.With(zap.String("connector", "catalog-tables"))}
}

func (c *CatalogTables) Kind() resource.Kind { return resource.KindCatalogTable }

func (c *CatalogTables) List(ctx context.Context, scope Scope, _ Filter, _ *time.Time, emit pager.EmitFunc) error {
	if scope.Catalog == "" || scope.Database == "" {
		return errors.New(errors.ErrorTypeConfig, "catalog table listing requires catalog and database in scope")
	}

	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListTableMetadata(ctx, &athena.ListTableMetadataInput{
			CatalogName:  aws.String(scope.Catalog),
			DatabaseName: aws.String(scope.Database),
			NextToken:    token,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListTableMetadata failed")
		}

		records := make([]resource.RawRecord, 0, len(out.TableMetadataList))
		for _, meta := range out.TableMetadataList {
			if aws.ToString(meta.Name) == "" {
				c.log.Warn("skipping table metadata without a name",
					zap.String("catalog", scope.Catalog), zap.String("database", scope.Database))
				metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
				continue
			}
			records = append(records, resource.RawRecord{
				"name":             aws.ToString(meta.Name),
				"catalog_name":     scope.Catalog,
				"database_name":    scope.Database,
				"create_time":      meta.CreateTime,
				"last_access_time": meta.LastAccessTime,
				"table_type":       aws.ToString(meta.TableType),
				"column_count":     len(meta.Columns),
				"parameters":       meta.Parameters,
			})
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}

// defaultWorkgroup is listed when the scope names no Athena workgroup
const defaultWorkgroup = "primary"

// batchGetLimit is the BatchGetQueryExecution request cap
const batchGetLimit = 50

// AthenaQueryErrors lists failed query executions for one workgroup.
// ListQueryExecutions yields ids only, so each page is resolved with
// BatchGetQueryExecution and narrowed to the FAILED state. The listing order
// is not guaranteed, so watermark filtering stays client-side.
type AthenaQueryErrors struct {
	api AthenaAPI
	pg  *pager.Pager
	log *zap.Logger
}

// NewAthenaQueryErrors creates the failed query execution connector
func NewAthenaQueryErrors(api AthenaAPI, pg *pager.Pager) *AthenaQueryErrors {
	return &AthenaQueryErrors{api: api, pg: pg, log: logger.With(zap.String("connector", "athena-query-errors"))}
}

func (c *AthenaQueryErrors) Kind() resource.Kind { return resource.KindAthenaQueryError }

func (c *AthenaQueryErrors) List(ctx context.Context, scope Scope, _ Filter, _ *time.Time, emit pager.EmitFunc) error {
	workgroup := scope.Workgroup
	if workgroup == "" {
		workgroup = defaultWorkgroup
	}

	fetch := func(ctx context.Context, token *string) (pager.Page, error) {
		out, err := c.api.ListQueryExecutions(ctx, &athena.ListQueryExecutionsInput{
			WorkGroup: aws.String(workgroup),
			NextToken: token,
		})
		if err != nil {
			return pager.Page{}, awsx.Classify(err, "ListQueryExecutions failed")
		}

		records := make([]resource.RawRecord, 0, len(out.QueryExecutionIds))
		for start := 0; start < len(out.QueryExecutionIds); start += batchGetLimit {
			end := start + batchGetLimit
			if end > len(out.QueryExecutionIds) {
				end = len(out.QueryExecutionIds)
			}
			batch, err := c.failedExecutions(ctx, out.QueryExecutionIds[start:end], workgroup)
			if err != nil {
				return pager.Page{}, err
			}
			records = append(records, batch...)
		}
		return pager.Page{Records: records, NextToken: out.NextToken}, nil
	}

	return c.pg.Each(ctx, c.Kind(), fetch, emit)
}

func (c *AthenaQueryErrors) failedExecutions(ctx context.Context, ids []string, workgroup string) ([]resource.RawRecord, error) {
	out, err := c.api.BatchGetQueryExecution(ctx, &athena.BatchGetQueryExecutionInput{
		QueryExecutionIds: ids,
	})
	if err != nil {
		return nil, awsx.Classify(err, "BatchGetQueryExecution failed")
	}

	records := make([]resource.RawRecord, 0, len(out.QueryExecutions))
	for _, qe := range out.QueryExecutions {
		if qe.Status == nil || qe.Status.State != types.QueryExecutionStateFailed {
			continue
		}
		if aws.ToString(qe.QueryExecutionId) == "" {
			c.log.Warn("skipping query execution without an id", zap.String("workgroup", workgroup))
			metrics.RecordsSkipped.WithLabelValues(c.Kind().String()).Inc()
			continue
		}
		records = append(records, resource.RawRecord{
			"query_id":        aws.ToString(qe.QueryExecutionId),
			"workgroup":       aws.ToString(qe.WorkGroup),
			"submission_time": qe.Status.SubmissionDateTime,
			"completion_time": qe.Status.CompletionDateTime,
			"failure_reason":  aws.ToString(qe.Status.StateChangeReason),
		})
	}
	return records, nil
}
