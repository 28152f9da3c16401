package backend_test

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/access"
	"github.com/relabs-tech/awokado/core/audit"
	"github.com/relabs-tech/awokado/core/backend"
	"github.com/relabs-tech/awokado/core/client"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/field"
	"github.com/relabs-tech/awokado/core/resource"
)

var (
	authors = field.NewTable("authors")
	books   = field.NewTable("books", field.References("author_id", "authors"))
	tags    = field.NewTable("tags")
	m2m     = field.NewTable("m2m_books_tags", field.References("book_id", "books"), field.References("tag_id", "tags"))
)

func testRegistry() *resource.Registry {
	author := &resource.Definition{
		Name:       "author",
		Table:      authors,
		SelectFrom: []field.Join{field.LeftJoin(books, `"books"."author_id" = "authors"."id"`)},
		Operations: core.AllOperations,
		Fields: []*field.Field{
			field.Scalar("id", field.Int, authors.ID(), field.DumpOnly()),
			field.Scalar("first_name", field.String, authors.Column("first_name"), field.LoadOnly(), field.Required()),
			field.Scalar("last_name", field.String, authors.Column("last_name"), field.LoadOnly(), field.Required()),
			field.Scalar("name", field.String, field.Expression(authors, `concat("authors"."first_name", ' ', "authors"."last_name")`), field.DumpOnly()),
			field.Scalar("books_count", field.Int, field.AggregateExpression(books, `count("books"."id")`), field.DumpOnly()),
			field.ToMany("books", "book", books.ID()),
		},
		Relations: map[string]resource.RelationSource{"book": backend.Related()},
	}
	book := &resource.Definition{
		Name:       "book",
		Table:      books,
		SelectFrom: []field.Join{field.LeftJoin(m2m, `"m2m_books_tags"."book_id" = "books"."id"`)},
		Operations: core.AllOperations,
		Fields: []*field.Field{
			field.Scalar("id", field.Int, books.ID(), field.DumpOnly()),
			field.Scalar("title", field.String, books.Column("title"), field.Required()),
			field.ToOne("author", "author", books.Column("author_id")),
			field.ToMany("tags", "tag", m2m.Column("tag_id")),
		},
		Relations: map[string]resource.RelationSource{"author": backend.Related()},
	}
	tag := &resource.Definition{
		Name:       "tag",
		Table:      tags,
		Operations: []core.Operation{core.OperationRead, core.OperationCreate},
		Fields: []*field.Field{
			field.Scalar("id", field.Int, tags.ID(), field.DumpOnly()),
			field.Scalar("name", field.String, tags.Column("name"), field.Required()),
		},
		Relations: map[string]resource.RelationSource{"book": backend.Related()},
	}
	secret := &resource.Definition{
		Name:       "secret",
		Table:      field.NewTable("secrets"),
		Operations: core.AllOperations,
		Policy:     access.DenyAll{},
		Fields: []*field.Field{
			field.Scalar("id", field.Int, field.NewTable("secrets").ID(), field.DumpOnly()),
		},
	}
	registry := resource.NewRegistry()
	registry.MustRegister(author, book, tag, secret)
	return registry
}

// testService is a backend on a mocked database
type testService struct {
	mock   sqlmock.Sqlmock
	router *mux.Router
	client client.Client
	audit  *audit.Recorder
}

func newTestService(t *testing.T) *testService {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	router := mux.NewRouter()
	s := &testService{mock: mock, router: router, audit: &audit.Recorder{}}
	backend.New(&backend.Builder{
		Registry: testRegistry(),
		DB:       &csql.DB{DB: db},
		Router:   router,
		Audit:    s.audit,
	})
	s.client = client.NewWithRouter(router)
	return s
}

// sql returns a matcher for exactly this statement
func sql(statement string) string {
	return "^" + regexp.QuoteMeta(statement) + "$"
}
