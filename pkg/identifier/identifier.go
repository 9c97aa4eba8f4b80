// Package identifier validates resource-derived names before they are used as
// storage table or column identifiers.
//
// Table and column names cannot be bound as query parameters, so every
// dynamically built identifier must pass Sanitize before it is interpolated
// into a schema statement. Sanitize never rewrites a bad name into a good one;
// it lowercases and then either accepts or rejects.
package identifier

import (
	"regexp"
	"strings"

	"github.com/cloudpivot/metamirror/pkg/errors"
)

// MaxLength is the longest accepted identifier, in bytes
const MaxLength = 63

var validIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedWords are SQL keywords that would be ambiguous or outright invalid
// as bare table/column names in schema statements.
var reservedWords = map[string]struct{}{
	"all": {}, "alter": {}, "and": {}, "as": {}, "asc": {}, "begin": {},
	"between": {}, "by": {}, "case": {}, "column": {}, "commit": {},
	"create": {}, "default": {}, "delete": {}, "desc": {}, "distinct": {},
	"drop": {}, "else": {}, "end": {}, "except": {}, "exists": {}, "from": {},
	"group": {}, "having": {}, "in": {}, "index": {}, "insert": {},
	"intersect": {}, "into": {}, "is": {}, "join": {}, "key": {}, "like": {},
	"limit": {}, "not": {}, "null": {}, "on": {}, "or": {}, "order": {},
	"primary": {}, "references": {}, "rollback": {}, "select": {}, "set": {},
	"table": {}, "then": {}, "transaction": {}, "union": {}, "unique": {},
	"update": {}, "user": {}, "values": {}, "when": {}, "where": {},
}

// Sanitize validates a candidate identifier and returns its canonical
// (lowercased) form. It fails with a validation error when the candidate is
// empty, too long, contains characters outside the allow-list, or collides
// with a reserved word.
func Sanitize(candidate string) (string, error) {
	name := strings.ToLower(candidate)

	if name == "" {
		return "", errors.New(errors.ErrorTypeValidation, "identifier is empty")
	}
	if len(name) > MaxLength {
		return "", errors.New(errors.ErrorTypeValidation, "identifier exceeds maximum length").
			WithDetail("identifier", candidate).
			WithDetail("max_length", MaxLength)
	}
	if !validIdent.MatchString(name) {
		return "", errors.New(errors.ErrorTypeValidation, "identifier contains disallowed characters").
			WithDetail("identifier", candidate)
	}
	if _, reserved := reservedWords[name]; reserved {
		return "", errors.New(errors.ErrorTypeValidation, "identifier collides with a reserved word").
			WithDetail("identifier", candidate)
	}

	return name, nil
}

// Join concatenates non-empty parts with underscores and sanitizes the result.
// Used to combine an optional user table prefix with a kind's table name.
func Join(parts ...string) (string, error) {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return Sanitize(strings.Join(kept, "_"))
}
