package firebird

import (
	"fmt"
	"strings"
)

// Field type codes stored in RDB$FIELDS.RDB$FIELD_TYPE.
const (
	fieldSmallint  = 7
	fieldInteger   = 8
	fieldFloat     = 10
	fieldDate      = 12
	fieldTime      = 13
	fieldChar      = 14
	fieldBigint    = 16
	fieldBoolean   = 23
	fieldDouble    = 27
	fieldTimestamp = 35
	fieldVarchar   = 37
	fieldBlob      = 261
)

// quoteName double-quotes an identifier, escaping embedded quotes.
func quoteName(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// fieldTypeName maps a catalog field type to the portable names used in
// table descriptors. Scaled integers are NUMERIC/DECIMAL columns.
func fieldTypeName(fieldType, subType, scale int) string {
	switch fieldType {
	case fieldSmallint, fieldInteger, fieldBigint:
		if scale < 0 || subType == 1 || subType == 2 {
			return "NUMERIC"
		}
		switch fieldType {
		case fieldSmallint:
			return "SMALLINT"
		case fieldInteger:
			return "INTEGER"
		}
		return "BIGINT"
	case fieldFloat:
		return "FLOAT"
	case fieldDouble:
		return "DOUBLE PRECISION"
	case fieldDate:
		return "DATE"
	case fieldTime:
		return "TIME"
	case fieldTimestamp:
		return "TIMESTAMP"
	case fieldChar:
		return "CHAR"
	case fieldVarchar:
		return "VARCHAR"
	case fieldBoolean:
		return "BOOLEAN"
	case fieldBlob:
		if subType == 1 {
			return "TEXT"
		}
		return "BLOB"
	}
	return fmt.Sprintf("UNKNOWN(%d)", fieldType)
}

// mapDriverType maps the wire type names reported by firebirdsql.
func mapDriverType(driverType string) string {
	switch strings.ToUpper(driverType) {
	case "VARYING":
		return "VARCHAR"
	case "TEXT":
		return "CHAR"
	case "SHORT":
		return "SMALLINT"
	case "LONG":
		return "INTEGER"
	case "INT64":
		return "BIGINT"
	case "DOUBLE", "D_FLOAT":
		return "DOUBLE PRECISION"
	}
	return strings.ToUpper(driverType)
}
