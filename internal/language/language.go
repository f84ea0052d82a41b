package language

import (
	"bytes"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FormatOperation renders a single operation as canonical GraphQL text.
// The output is stable for a given AST, which makes it usable as an
// identity key for deduplication.
func FormatOperation(op *OperationDefinition) string {
	var buf bytes.Buffer
	doc := &QueryDocument{Operations: []*OperationDefinition{op}}
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// FormatSelectionSet renders a selection set as canonical GraphQL text by
// wrapping it in an anonymous query operation.
func FormatSelectionSet(sel SelectionSet) string {
	return FormatOperation(&OperationDefinition{Operation: Query, SelectionSet: sel})
}
