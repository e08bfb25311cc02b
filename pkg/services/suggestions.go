package services

import (
	"fmt"
	"strings"

	"github.com/rotosaurio/iacandy/pkg/models"
)

const (
	maxSuggestions        = 3
	largeResultRows       = 1000
	suggestionSourceTable = 2
)

// FollowUpSuggestions proposes at most three follow-up questions based on the
// size of the result, the tables referenced by the retrieved ones and the
// topic of the question.
func FollowUpSuggestions(question string, result *models.QueryResult, tables []*models.TableDescriptor) []string {
	var out []string
	add := func(s ...string) {
		for _, x := range s {
			if len(out) < maxSuggestions {
				out = append(out, x)
			}
		}
	}

	rows := 0
	if result != nil {
		rows = result.RowCount
	}
	switch {
	case rows > largeResultRows:
		add("¿Quieres que filtre por un período específico?",
			"¿Te interesa un resumen agrupado de estos datos?")
	case rows == 0:
		add("¿Quieres ampliar el rango de búsqueda?",
			"¿Te interesa verificar datos relacionados?")
	}

	for i, t := range tables {
		if i >= suggestionSourceTable {
			break
		}
		refs := t.ReferencedTables()
		for j, ref := range refs {
			if j >= 2 {
				break
			}
			add(fmt.Sprintf("También puedo analizar datos de %s", ref))
		}
	}

	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "venta"):
		add("¿Quieres ver el análisis por cliente o producto?",
			"¿Te interesa la comparación con períodos anteriores?")
	case strings.Contains(q, "cliente"):
		add("¿Quieres ver el historial de compras?",
			"¿Te interesa el análisis de comportamiento?")
	}
	return out
}
