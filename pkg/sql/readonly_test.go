package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotosaurio/iacandy/pkg/apperrors"
)

func TestValidateReadOnly_Allows(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"simple select", "SELECT * FROM CLIENTES", "SELECT * FROM CLIENTES"},
		{"trailing semicolon", "  SELECT COUNT(*) FROM ARTICULOS;  ", "SELECT COUNT(*) FROM ARTICULOS"},
		{"cte", "WITH v AS (SELECT CLIENTE_ID FROM DOCTOS_PV) SELECT COUNT(*) FROM v", "WITH v AS (SELECT CLIENTE_ID FROM DOCTOS_PV) SELECT COUNT(*) FROM v"},
		{"keyword inside literal", "SELECT * FROM ARTICULOS WHERE NOMBRE LIKE '%DELETE%'", "SELECT * FROM ARTICULOS WHERE NOMBRE LIKE '%DELETE%'"},
		{"semicolon inside literal", "SELECT * FROM CLIENTES WHERE NOTAS = 'a;b'", "SELECT * FROM CLIENTES WHERE NOTAS = 'a;b'"},
		{"bracketed identifier", "SELECT [UPDATE] FROM [dbo].[LOG]", "SELECT [UPDATE] FROM [dbo].[LOG]"},
		{"leading comment", "-- top clients\nSELECT TOP 10 * FROM CLIENTES", "-- top clients\nSELECT TOP 10 * FROM CLIENTES"},
		{"status filter", "SELECT * FROM ARTICULOS WHERE ESTATUS = 'A'", "SELECT * FROM ARTICULOS WHERE ESTATUS = 'A'"},
		{"procedure select", "SELECT * FROM SP_VENTAS_PERIODO('2024-01-01', '2024-12-31')", "SELECT * FROM SP_VENTAS_PERIODO('2024-01-01', '2024-12-31')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateReadOnly(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateReadOnly_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"delete", "DELETE FROM CLIENTES"},
		{"update", "UPDATE ARTICULOS SET ESTATUS = 'B'"},
		{"drop after select", "SELECT 1; DROP TABLE CLIENTES"},
		{"select into", "SELECT * INTO COPIA FROM CLIENTES"},
		{"exec", "EXEC sp_who"},
		{"write inside cte", "WITH x AS (DELETE FROM CLIENTES RETURNING *) SELECT * FROM x"},
		{"injection in literal", "SELECT * FROM CLIENTES WHERE NOMBRE = ''' OR ''1''=''1'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateReadOnly(tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrNotReadOnly)
		})
	}
}

func TestValidateReadOnly_MultipleStatements(t *testing.T) {
	_, err := ValidateReadOnly("SELECT 1; SELECT 2")

	assert.ErrorIs(t, err, ErrMultipleStatements)
	assert.ErrorIs(t, err, apperrors.ErrNotReadOnly)
}

func TestValidateReadOnly_Empty(t *testing.T) {
	_, err := ValidateReadOnly("  ;  ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = ValidateReadOnly("-- only a comment")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestScan_ExtractsLiterals(t *testing.T) {
	s := scan("SELECT * FROM T WHERE A = 'x' AND B = 'it''s' /* c; */")

	assert.Equal(t, []string{"x", "it's"}, s.literals)
	assert.NotContains(t, s.code, ";")
}

func TestCheckLiteralForInjection(t *testing.T) {
	clean := []string{"12345", "2024-01-15", "user@example.com", "laptop computers", ""}
	for _, v := range clean {
		assert.Nil(t, CheckLiteralForInjection("lit", v), v)
	}

	r := CheckLiteralForInjection("lit", "' OR '1'='1")
	require.NotNil(t, r)
	assert.NotEmpty(t, r.Fingerprint)
	assert.Equal(t, "lit", r.Label)
}
