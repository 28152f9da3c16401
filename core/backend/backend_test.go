package backend_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/backend"
)

const (
	total = `, count(*) OVER() AS "total"`

	bookColumns = `SELECT "books"."id" AS "id", "books"."title" AS "title", "books"."author_id" AS "author",` +
		` array_remove(array_agg(DISTINCT "m2m_books_tags"."tag_id"), NULL) AS "tags"`
	bookFrom = ` FROM "books" LEFT OUTER JOIN "m2m_books_tags" ON "m2m_books_tags"."book_id" = "books"."id"`

	authorColumns = `SELECT "authors"."id" AS "id", concat("authors"."first_name", ' ', "authors"."last_name") AS "name",` +
		` count("books"."id") AS "books_count", array_remove(array_agg(DISTINCT "books"."id"), NULL) AS "books"`
	authorFrom = ` FROM "authors" LEFT OUTER JOIN "books" ON "books"."author_id" = "authors"."id"`

	tagQuery = `SELECT "tags"."id" AS "id", "tags"."name" AS "name" FROM "tags"`
)

var (
	bookRows   = []string{"id", "title", "author", "tags", "total"}
	authorRows = []string{"id", "name", "books_count", "books", "total"}
)

func TestList_FilterSortPage(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(bookColumns+total+bookFrom+
		` WHERE "books"."title" ILIKE $1 GROUP BY "books"."id" ORDER BY "books"."title" ASC NULLS FIRST LIMIT 1 OFFSET 1;`)).
		WithArgs("%fir%").
		WillReturnRows(sqlmock.NewRows(bookRows).AddRow(int64(1), "first", int64(3), "{1,2}", int64(3)))
	s.mock.ExpectCommit()

	var result []byte
	status, err := s.client.Resource("book").WithFilter("title", "ilike", "fir").Sort("title").Page(1, 1).List(&result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{
		"payload": {"book": [{"id": 1, "title": "first", "author": 3, "tags": [1, 2]}]},
		"meta": {"total": 3}
	}`, string(result))
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestList_Empty(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(authorColumns + total + authorFrom + ` GROUP BY "authors"."id";`)).
		WillReturnRows(sqlmock.NewRows(authorRows))
	s.mock.ExpectCommit()

	var result []byte
	_, err := s.client.Resource("author").List(&result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload": {"author": []}, "meta": {"total": 0}}`, string(result))
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestList_ZeroLimitIsNoLimit(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(authorColumns + total + authorFrom + ` GROUP BY "authors"."id";`)).
		WillReturnRows(sqlmock.NewRows(authorRows).
			AddRow(int64(1), "Steven King", int64(0), nil, int64(2)).
			AddRow(int64(2), "Agatha Christie", int64(0), nil, int64(2)))
	s.mock.ExpectCommit()

	var result []byte
	status, err := s.client.RawGet("/author?limit=0", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{
		"payload": {"author": [
			{"id": 1, "name": "Steven King", "books_count": 0, "books": []},
			{"id": 2, "name": "Agatha Christie", "books_count": 0, "books": []}
		]},
		"meta": {"total": 2}
	}`, string(result))
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestList_BadLimit(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	var result []byte
	status, err := s.client.RawGet("/book?limit=-1", &result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestRead_WithIncludes(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(bookColumns+total+bookFrom+` WHERE "books"."id" = $1 GROUP BY "books"."id";`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(bookRows).AddRow(int64(1), "first", int64(3), "{2}", int64(1)))
	s.mock.ExpectQuery(sql(authorColumns+authorFrom+
		` WHERE "authors"."id" IN (SELECT "books"."author_id" FROM "books" WHERE "books"."id" IN ($1)) GROUP BY "authors"."id";`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "books_count", "books"}).AddRow(int64(3), "Steven King", int64(1), "{1}"))
	s.mock.ExpectQuery(sql(tagQuery+
		` WHERE "tags"."id" IN (SELECT "m2m_books_tags"."tag_id" FROM "m2m_books_tags" WHERE "m2m_books_tags"."book_id" IN ($1));`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(2), "horror"))
	s.mock.ExpectCommit()

	var result []byte
	_, err := s.client.Resource("book").Include("author", "tags").Item(1).Read(&result)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"book": [{"id": 1, "title": "first", "author": 3, "tags": [2]}],
		"author": [{"id": 3, "name": "Steven King", "books_count": 1, "books": [1]}],
		"tag": [{"id": 2, "name": "horror"}]
	}`, string(result))
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestRead_NotFound(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(bookColumns+total+bookFrom+` WHERE "books"."id" = $1 GROUP BY "books"."id";`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(bookRows))
	s.mock.ExpectRollback()

	var result []byte
	status, err := s.client.Resource("book").Item(9).Read(&result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestRead_IncludeErrors(t *testing.T) {
	testCases := []struct {
		include string
		status  int
	}{
		{"author.books", http.StatusBadRequest},
		{"title", http.StatusNotFound},
		{"unknown", http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.include, func(t *testing.T) {
			s := newTestService(t)
			s.mock.ExpectBegin()
			s.mock.ExpectQuery(sql(bookColumns + total + bookFrom + ` GROUP BY "books"."id";`)).
				WillReturnRows(sqlmock.NewRows(bookRows).AddRow(int64(1), "first", nil, nil, int64(1)))
			s.mock.ExpectRollback()

			status, err := s.client.Resource("book").Include(tc.include).List(nil)
			assert.Error(t, err)
			assert.Equal(t, tc.status, status)
			assert.NoError(t, s.mock.ExpectationsWereMet())
		})
	}
}

func TestCreate_Author(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(`INSERT INTO "authors" ("first_name", "last_name") VALUES ($1, $2) RETURNING "id";`)).
		WithArgs("Steven", "King").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	s.mock.ExpectQuery(sql(authorColumns+total+authorFrom+` WHERE "authors"."id" = $1 GROUP BY "authors"."id";`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(authorRows).AddRow(int64(5), "Steven King", int64(0), nil, int64(1)))
	s.mock.ExpectCommit()

	var result []byte
	status, err := s.client.Resource("author").Create(map[string]interface{}{
		"first_name": "Steven",
		"last_name":  "King",
	}, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"author": [{"id": 5, "name": "Steven King", "books_count": 0, "books": []}]}`, string(result))
	assert.NoError(t, s.mock.ExpectationsWereMet())

	require.Len(t, s.audit.Records, 1)
	assert.Equal(t, "author", s.audit.Records[0].Resource)
	assert.Equal(t, core.OperationCreate, s.audit.Records[0].Operation)
}

func TestCreate_CommitFailsNoAudit(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(`INSERT INTO "authors" ("first_name", "last_name") VALUES ($1, $2) RETURNING "id";`)).
		WithArgs("Steven", "King").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	s.mock.ExpectQuery(sql(authorColumns+total+authorFrom+` WHERE "authors"."id" = $1 GROUP BY "authors"."id";`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(authorRows).AddRow(int64(5), "Steven King", int64(0), nil, int64(1)))
	s.mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	status, err := s.client.Resource("author").Create(map[string]interface{}{
		"first_name": "Steven",
		"last_name":  "King",
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Empty(t, s.audit.Records)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestCreate_Bulk(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(`INSERT INTO "books" ("author_id", "title") VALUES ($1, $2), (DEFAULT, $3) RETURNING "id";`)).
		WithArgs(int64(5), "first", "second").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	s.mock.ExpectQuery(sql(bookColumns+total+bookFrom+` WHERE "books"."id" IN ($1, $2) GROUP BY "books"."id";`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(bookRows).
			AddRow(int64(1), "first", int64(5), nil, int64(2)).
			AddRow(int64(2), "second", nil, nil, int64(2)))
	s.mock.ExpectCommit()

	var result []byte
	_, err := s.client.Resource("book").Create([]interface{}{
		map[string]interface{}{"title": "first", "author": 5},
		map[string]interface{}{"title": "second"},
	}, &result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload": {"book": [
		{"id": 1, "title": "first", "author": 5, "tags": []},
		{"id": 2, "title": "second", "author": null, "tags": []}
	]}, "meta": {"total": 2}}`, string(result))
	assert.NoError(t, s.mock.ExpectationsWereMet())

	require.Len(t, s.audit.Records, 1)
	assert.Equal(t, core.OperationBulkCreate, s.audit.Records[0].Operation)
}

func TestCreate_ValidationError(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	var result []byte
	status, err := s.client.Resource("author").Create(map[string]interface{}{"first_name": "Steven"}, &result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, err.Error(), "last_name")
	assert.Empty(t, s.audit.Records)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestCreate_MissingPayloadKey(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectRollback()

	status, err := s.client.RawPost("/author", map[string]interface{}{"writer": map[string]interface{}{}}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestCreate_UnknownRelatedIDs(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(sql(`INSERT INTO "books" ("title") VALUES ($1) RETURNING "id";`)).
		WithArgs("first").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	s.mock.ExpectQuery(sql(`SELECT "tags"."id" FROM "tags" WHERE "tags"."id" = ANY($1);`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	s.mock.ExpectRollback()

	status, err := s.client.Resource("book").Create(map[string]interface{}{
		"title": "first",
		"tags":  []int{1, 7},
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, err.Error(), "Related ids [7] not found")
	assert.Empty(t, s.audit.Records)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestUpdate_ReplacesTags(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectExec(sql(`UPDATE "books" SET "title" = v."title" FROM (VALUES ($1::bigint, $2::text)) AS v("id", "title") WHERE "books"."id" = v."id";`)).
		WithArgs(int64(1), "new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectQuery(sql(`SELECT "tags"."id" FROM "tags" WHERE "tags"."id" = ANY($1);`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	s.mock.ExpectExec(sql(`DELETE FROM "m2m_books_tags" WHERE "m2m_books_tags"."book_id" IN ($1);`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectExec(sql(`INSERT INTO "m2m_books_tags" ("book_id", "tag_id") VALUES ($1, $2);`)).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectQuery(sql(bookColumns+total+bookFrom+` WHERE "books"."id" IN ($1) GROUP BY "books"."id";`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(bookRows).AddRow(int64(1), "new", nil, "{2}", int64(1)))
	s.mock.ExpectCommit()

	var result []byte
	_, err := s.client.Resource("book").Update([]interface{}{
		map[string]interface{}{"id": 1, "title": "new", "tags": []int{2, 2}},
	}, &result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload": {"book": [{"id": 1, "title": "new", "author": null, "tags": [2]}]}, "meta": {"total": 1}}`, string(result))
	assert.NoError(t, s.mock.ExpectationsWereMet())

	require.Len(t, s.audit.Records, 1)
	assert.Equal(t, core.OperationUpdate, s.audit.Records[0].Operation)
}

func TestUpdate_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"not a list", "/book", map[string]interface{}{"book": map[string]interface{}{"id": 1}}, http.StatusBadRequest},
		{"missing id", "/book", map[string]interface{}{"book": []interface{}{map[string]interface{}{"title": "x"}}}, http.StatusBadRequest},
		{"id mismatch", "/book/2", map[string]interface{}{"book": []interface{}{map[string]interface{}{"id": 1}}}, http.StatusBadRequest},
		{"not allowed", "/tag", map[string]interface{}{"tag": []interface{}{map[string]interface{}{"id": 1}}}, http.StatusMethodNotAllowed},
		{"invalid json", "/book", []byte(`{"book": [`), http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService(t)
			s.mock.ExpectBegin()
			s.mock.ExpectRollback()

			status, err := s.client.RawPatch(tc.path, tc.body, nil)
			assert.Error(t, err)
			assert.Equal(t, tc.status, status)
			assert.Empty(t, s.audit.Records)
			assert.NoError(t, s.mock.ExpectationsWereMet())
		})
	}
}

func TestDelete_ByIDs(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectExec(sql(`DELETE FROM "m2m_books_tags" WHERE "m2m_books_tags"."book_id" IN ($1, $2);`)).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	s.mock.ExpectExec(sql(`DELETE FROM "books" WHERE "books"."id" IN ($1, $2);`)).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectCommit()

	status, err := s.client.Resource("book").Delete(1, 2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.NoError(t, s.mock.ExpectationsWereMet())

	require.Len(t, s.audit.Records, 1)
	assert.Equal(t, core.OperationDelete, s.audit.Records[0].Operation)
}

func TestDelete_Item(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectExec(sql(`DELETE FROM "authors" WHERE "authors"."id" IN ($1);`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	status, err := s.client.Resource("author").Item(5).Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestDelete_RequiresExactlyOneTarget(t *testing.T) {
	for name, path := range map[string]string{
		"neither": "/book",
		"both":    "/book/1?ids=1",
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestService(t)
			s.mock.ExpectBegin()
			s.mock.ExpectRollback()

			status, err := s.client.RawDelete(path)
			assert.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NoError(t, s.mock.ExpectationsWereMet())
		})
	}
}

func TestForbidden(t *testing.T) {
	s := newTestService(t)
	s.mock.ExpectBegin()
	s.mock.ExpectRollback()
	status, err := s.client.Resource("secret").List(nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, err.Error(), "read-forbidden")

	s.mock.ExpectBegin()
	s.mock.ExpectRollback()
	status, err = s.client.Resource("secret").Create(map[string]interface{}{}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, err.Error(), "create-forbidden")
	assert.NoError(t, s.mock.ExpectationsWereMet())
}

func TestUnsupportedMethod(t *testing.T) {
	s := newTestService(t)
	r := httptest.NewRequest(http.MethodPut, "/book", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported-method")
}

func TestCORS(t *testing.T) {
	s := newTestService(t)
	handler := backend.CORS([]string{"https://books.example.com"})(s.router)

	r := httptest.NewRequest(http.MethodOptions, "/book", nil)
	r.Header.Set("Origin", "https://books.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://books.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/book", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
