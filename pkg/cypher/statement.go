package cypher

import (
	"strings"

	"github.com/orneryd/grom/pkg/graph"
)

// Write-path statements. These cover the CRUD surface the mapping layer
// needs: property bags ride as a single map parameter, identifiers are
// matched through id(), and created element identities are read back from
// RETURN. Nothing here interpolates a caller value into query text.

// CreateNode builds a statement that creates one node carrying every label
// in labels and returns its generated id under the column "id".
func CreateNode(labels []string, props map[string]any) (*Statement, error) {
	if len(labels) == 0 {
		return nil, &graph.Error{Code: graph.EInvalid, Op: "cypher.CreateNode", Msg: "at least one label is required"}
	}
	bag, err := normalizeBag(props)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Text:   "CREATE (n" + labelList(labels) + ")\nSET n = $props\nRETURN id(n) AS id",
		Params: map[string]any{"props": bag},
	}, nil
}

// CreateRelationship builds a statement that creates one relationship of
// the given type between two existing nodes and returns its generated id
// under the column "id". Matching zero endpoints creates nothing and
// returns no rows.
func CreateRelationship(relType, startID, endID string, props map[string]any) (*Statement, error) {
	if relType == "" {
		return nil, &graph.Error{Code: graph.EInvalid, Op: "cypher.CreateRelationship", Msg: "relationship type is required"}
	}
	bag, err := normalizeBag(props)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Text: "MATCH (a), (b)\nWHERE id(a) = $start AND id(b) = $end\n" +
			"CREATE (a)-[r:" + quoteIdent(relType) + "]->(b)\nSET r = $props\nRETURN id(r) AS id",
		Params: map[string]any{"start": startID, "end": endID, "props": bag},
	}, nil
}

// NodeByID builds a statement that returns the node with the given id
// under the column "n".
func NodeByID(id string) *Statement {
	return &Statement{
		Text:   "MATCH (n)\nWHERE id(n) = $id\nRETURN n",
		Params: map[string]any{"id": id},
	}
}

// RelationshipByID builds a statement that returns the relationship with
// the given id under the column "r".
func RelationshipByID(id string) *Statement {
	return &Statement{
		Text:   "MATCH ()-[r]->()\nWHERE id(r) = $id\nRETURN r",
		Params: map[string]any{"id": id},
	}
}

// UpdateNode builds a statement that replaces the node's properties with
// props. Replacement, not merge: properties absent from props are removed.
func UpdateNode(id string, props map[string]any) (*Statement, error) {
	bag, err := normalizeBag(props)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Text:   "MATCH (n)\nWHERE id(n) = $id\nSET n = $props\nRETURN id(n) AS id",
		Params: map[string]any{"id": id, "props": bag},
	}, nil
}

// UpdateRelationship builds a statement that replaces the relationship's
// properties with props.
func UpdateRelationship(id string, props map[string]any) (*Statement, error) {
	bag, err := normalizeBag(props)
	if err != nil {
		return nil, err
	}
	return &Statement{
		Text:   "MATCH ()-[r]->()\nWHERE id(r) = $id\nSET r = $props\nRETURN id(r) AS id",
		Params: map[string]any{"id": id, "props": bag},
	}, nil
}

// DeleteNode builds a statement that removes the node and every
// relationship attached to it.
func DeleteNode(id string) *Statement {
	return &Statement{
		Text:   "MATCH (n)\nWHERE id(n) = $id\nDETACH DELETE n",
		Params: map[string]any{"id": id},
	}
}

// DeleteRelationship builds a statement that removes the relationship.
func DeleteRelationship(id string) *Statement {
	return &Statement{
		Text:   "MATCH ()-[r]->()\nWHERE id(r) = $id\nDELETE r",
		Params: map[string]any{"id": id},
	}
}

func labelList(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(":")
		b.WriteString(quoteIdent(l))
	}
	return b.String()
}

// normalizeBag canonicalizes a property map for the wire. A nil map
// normalizes to an empty one so SET always has an argument.
func normalizeBag(props map[string]any) (map[string]any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	flat, err := graph.FlattenProps(props)
	if err != nil {
		return nil, err
	}
	return flat, nil
}
