// Package connector adapts per-service AWS list/describe calls into a uniform
// stream of raw records driven by the pager.
//
// Each connector translates exactly one pagination idiom (opaque token,
// name marker, or describe-then-paginate-children) into the pager's
// continuation-token contract and maps SDK response shapes onto snake_case
// RawRecord fields. Records missing their natural-key field are skipped with
// a warning, never fatal to the run.
package connector

import (
	"context"
	"strings"
	"time"

	"github.com/cloudpivot/metamirror/pkg/pager"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// Scope identifies where a listing applies: account, region, and the
// source-specific container (bucket, catalog database, state machine).
type Scope struct {
	AccountID       string
	Region          string
	Bucket          string
	Catalog         string
	Database        string
	Workgroup       string
	Pipeline        string
	StateMachineARN string
}

// Key returns a stable string identifying the scope, used to key watermarks
func (s Scope) Key() string {
	parts := make([]string, 0, 4)
	if s.AccountID != "" {
		parts = append(parts, s.AccountID)
	}
	if s.Region != "" {
		parts = append(parts, s.Region)
	}
	if s.Bucket != "" {
		parts = append(parts, "bucket="+s.Bucket)
	}
	if s.Catalog != "" || s.Database != "" {
		parts = append(parts, "catalog="+s.Catalog+"."+s.Database)
	}
	if s.Workgroup != "" {
		parts = append(parts, "workgroup="+s.Workgroup)
	}
	if s.Pipeline != "" {
		parts = append(parts, "pipeline="+s.Pipeline)
	}
	if s.StateMachineARN != "" {
		parts = append(parts, "machine="+s.StateMachineARN)
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, "/")
}

// Filter narrows a listing. Fields are applied server-side where the service
// supports it, otherwise during sync by the controller.
type Filter struct {
	// Prefix filters S3 object keys and CloudFormation stack names
	Prefix string
	// NameContains filters SageMaker job names
	NameContains string
	// Status filters Step Functions executions
	Status string
}

// Connector is one source adapter producing raw records for a resource kind
type Connector interface {
	// Kind returns the resource kind this connector lists
	Kind() resource.Kind

	// List streams raw records for the scope into emit, narrowed by filter
	// and, when the service supports server-side time filtering, by since.
	List(ctx context.Context, scope Scope, filter Filter, since *time.Time, emit pager.EmitFunc) error
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
