/*
Package backend implements the REST api of declared resources

A backend serves every resource of a sealed registry with generic handlers. The
read pipeline builds one SQL query per request from the field model of the
resource, the write pipeline inserts, updates and deletes rows and reads the
result back through the read pipeline.

Routes

For a resource "book" the backend creates the following routes:

	GET /book
	POST /book
	PATCH /book
	DELETE /book?ids=1,2,3
	GET /book/{id}
	PATCH /book/{id}
	DELETE /book/{id}

Reading

A list read accepts the query parameters

	include=author,tags   add the related objects of these relations
	sort=-title,id        sort terms, - sorts descending
	limit=10&offset=20    pagination
	title[ilike]=fir      filters, see package filter

and responds with

	{
	  "payload": {
	    "book": [{"id": 1, "title": "first", "author": 3, "tags": [1, 2]}],
	    "author": [{"id": 3, "name": "Steven King", "books_count": 1, "books": [1]}]
	  },
	  "meta": {"total": 1}
	}

A single read responds with {"book": [{...}], "author": [...]}. Relations are
only included if the related resource provides a relation source for the
requesting resource, see Related.

Writing

Payloads are wrapped in the resource name. POST accepts a single object or, with
the bulk_create operation, a list:

	{"book": {"title": "first", "author": 3, "tags": [1, 2]}}

PATCH always takes a list of objects with their ids. Provided to-many relations
replace the existing relations:

	{"book": [{"id": 1, "tags": [2]}]}

Every request runs in one database transaction.
*/
package backend
