package weaviate

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"docsearch/internal/vector"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	pageSize    = 500
	deleteBatch = 100
)

// Store is a vector.Collection backed by one weaviate class.
type Store struct {
	client     *weaviate.Client
	collection string
	class      string
}

var _ vector.Collection = (*Store)(nil)

func NewStore(client *weaviate.Client, collection string) *Store {
	return &Store{client: client, collection: collection, class: ClassName(collection)}
}

// ClassName maps a collection name onto a valid weaviate class name.
func ClassName(collection string) string {
	var b strings.Builder
	for _, r := range collection {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" || !unicode.IsLetter(rune(name[0])) {
		name = "C" + name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (s *Store) Class() string { return s.class }

func (s *Store) objectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.collection+"/"+chunkID)).String())
}

func (s *Store) Add(ctx context.Context, records []vector.Record) error {
	objs := make([]*models.Object, 0, len(records))
	for _, r := range records {
		objs = append(objs, &models.Object{
			Class: s.class,
			ID:    s.objectID(r.ID),
			Properties: map[string]interface{}{
				"chunkId":  r.ID,
				"content":  r.Text,
				"source":   r.Metadata.Source,
				"page":     r.Metadata.Page,
				"filePath": r.Metadata.FilePath,
			},
			Vector: models.C11yVector(r.Embedding),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return err
	}
	for _, o := range resp {
		if o.Result == nil || o.Result.Errors == nil {
			continue
		}
		for _, e := range o.Result.Errors.Error {
			if e != nil {
				return fmt.Errorf("batch object %s: %s", o.ID, e.Message)
			}
		}
	}
	return nil
}

// Get reads the whole collection, or the chunks matching filter. Unfiltered
// reads walk the cursor API so they are not capped by QUERY_MAXIMUM_RESULTS.
// Weaviate cannot combine a cursor with a where clause, so filtered reads
// page by offset.
func (s *Store) Get(ctx context.Context, filter *vector.Filter, includeDocuments bool) (*vector.Snapshot, error) {
	fields := []graphql.Field{{Name: "chunkId"}, {Name: "source"}, {Name: "page"}, {Name: "filePath"}}
	if includeDocuments {
		fields = append(fields, graphql.Field{Name: "content"})
	}
	where := sourceWhere(filter)
	if where == nil {
		fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}})
	}

	snap := &vector.Snapshot{}
	var after string
	for offset := 0; ; offset += pageSize {
		q := s.client.GraphQL().Get().
			WithClassName(s.class).
			WithFields(fields...).
			WithLimit(pageSize)
		switch {
		case where != nil:
			q = q.WithWhere(where).WithOffset(offset)
		case after != "":
			q = q.WithAfter(after)
		}
		res, err := q.Do(ctx)
		if err != nil {
			return nil, err
		}
		if len(res.Errors) > 0 {
			return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
		}

		rows := s.rows(res.Data)
		for _, props := range rows {
			snap.IDs = append(snap.IDs, str(props["chunkId"]))
			snap.Metadatas = append(snap.Metadatas, metadataOf(props))
			if includeDocuments {
				snap.Documents = append(snap.Documents, str(props["content"]))
			}
		}
		if len(rows) < pageSize {
			return snap, nil
		}
		if where == nil {
			additional, _ := rows[len(rows)-1]["_additional"].(map[string]interface{})
			if after = str(additional["id"]); after == "" {
				return nil, fmt.Errorf("cursor: object id missing from page ending at %d", offset+len(rows))
			}
		}
	}
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := agg[s.class].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += deleteBatch {
		end := min(start+deleteBatch, len(ids))
		_, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(s.class).
			WithOutput("minimal").
			WithWhere(filters.Where().
				WithPath([]string{"chunkId"}).
				WithOperator(filters.ContainsAny).
				WithValueText(ids[start:end]...)).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("delete ids %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Query runs a nearVector search. When a filter is set, any failure is
// reported as vector.ErrFilterUnsupported so the caller can retry unfiltered.
func (s *Store) Query(ctx context.Context, embedding []float32, n int, filter *vector.Filter) ([]vector.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(embedding)

	q := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(n).
		WithFields(
			graphql.Field{Name: "chunkId"},
			graphql.Field{Name: "content"},
			graphql.Field{Name: "source"},
			graphql.Field{Name: "page"},
			graphql.Field{Name: "filePath"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		)
	where := sourceWhere(filter)
	if where != nil {
		q = q.WithWhere(where)
	}

	res, err := q.Do(ctx)
	if err == nil && len(res.Errors) > 0 {
		err = fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}
	if err != nil {
		if where != nil {
			return nil, fmt.Errorf("%w: %v", vector.ErrFilterUnsupported, err)
		}
		return nil, err
	}

	rows := s.rows(res.Data)
	matches := make([]vector.Match, 0, len(rows))
	for _, props := range rows {
		m := vector.Match{
			ID:       str(props["chunkId"]),
			Text:     str(props["content"]),
			Metadata: metadataOf(props),
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				dist := float32(d)
				m.Distance = &dist
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) rows(data map[string]models.JSONObject) []map[string]interface{} {
	get, _ := data["Get"].(map[string]interface{})
	raw, _ := get[s.class].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func sourceWhere(filter *vector.Filter) *filters.WhereBuilder {
	if filter == nil {
		return nil
	}
	return filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.ContainsAny).
		WithValueText(filter.Sources...)
}

func metadataOf(props map[string]interface{}) vector.Metadata {
	md := vector.Metadata{
		Source:   str(props["source"]),
		FilePath: str(props["filePath"]),
	}
	if page, ok := props["page"].(float64); ok {
		md.Page = int(page)
	}
	return md
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
