package backend

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/apierror"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/filter"
	"github.com/relabs-tech/awokado/core/logger"
	"github.com/relabs-tech/awokado/core/resource"
)

// request is the handler of one operation. It runs inside the request transaction.
type request func(ctx context.Context, tx csql.Queryer, r *http.Request, d *resource.Definition) (interface{}, error)

func (b *Backend) createResource(router *mux.Router, d *resource.Definition) {
	list := "/" + d.Name
	item := list + "/{id}"

	router.Handle(list, b.serve(d, b.read)).Methods(http.MethodGet)
	router.Handle(item, b.serve(d, b.read)).Methods(http.MethodGet)
	router.Handle(list, b.serve(d, b.create)).Methods(http.MethodPost)
	router.Handle(list, b.serve(d, b.update)).Methods(http.MethodPatch)
	router.Handle(item, b.serve(d, b.update)).Methods(http.MethodPatch)
	router.Handle(list, b.serve(d, b.delete)).Methods(http.MethodDelete)
	router.Handle(item, b.serve(d, b.delete)).Methods(http.MethodDelete)

	if router.MethodNotAllowedHandler == nil {
		router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apierror.Write(w, apierror.UnsupportedMethod(r.Method), b.debug)
		})
	}
}

// serve runs a request in a transaction and writes its JSON response
func (b *Backend) serve(d *resource.Definition, handle request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, rlog := logger.ContextWithLoggerResource(r.Context(), d.Name)
		txCtx, pending := contextWithPendingRecords(ctx)
		var response interface{}
		err := csql.WithTransaction(ctx, b.db, func(tx *sql.Tx) error {
			var err error
			response, err = handle(csql.ContextWithQueryer(txCtx, tx), tx, r, d)
			return err
		})
		if err == nil {
			b.flush(ctx, pending)
		}
		if err != nil {
			if _, ok := apierror.As(apierror.FromDatabase(err)); ok {
				rlog.WithError(err).Debugln("request rejected")
			} else {
				rlog.WithError(err).Errorf("Error 4730: %s %s", r.Method, r.URL.Path)
			}
			apierror.Write(w, err, b.debug)
			return
		}

		jsonData, err := json.Marshal(response)
		if err != nil {
			rlog.WithError(err).Errorln("Error 4731: cannot marshal response")
			apierror.Write(w, err, b.debug)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(jsonData)
	})
}

// pathID returns the id of the request path, or nil
func pathID(r *http.Request) interface{} {
	if id, ok := mux.Vars(r)["id"]; ok && id != "" {
		return id
	}
	return nil
}

func parseNonNegative(params map[string][]string, key string) (*int, error) {
	value := params[key]
	if len(value) == 0 || value[0] == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value[0])
	if err != nil || n < 0 {
		return nil, apierror.BadLimitOffset()
	}
	return &n, nil
}

func (b *Backend) read(ctx context.Context, tx csql.Queryer, r *http.Request, d *resource.Definition) (interface{}, error) {
	if !d.Allows(core.OperationRead) {
		return nil, apierror.MethodNotAllowed("")
	}
	params := r.URL.Query()
	rc := ReadContext{
		Resource:   d,
		Identity:   core.IdentityFromContext(ctx),
		Tx:         tx,
		ResourceID: pathID(r),
		Include:    core.SplitList(params["include"]...),
		Sort:       core.SplitList(params["sort"]...),
	}
	var err error
	if rc.Limit, err = parseNonNegative(params, "limit"); err != nil {
		return nil, err
	}
	if rc.Offset, err = parseNonNegative(params, "offset"); err != nil {
		return nil, err
	}
	if rc.Filters, err = filter.Parse(params, d.FieldNames()); err != nil {
		return nil, err
	}
	return Read(ctx, b.registry, rc)
}

// payload decodes the request body and returns the value of the resource key
func payload(r *http.Request, d *resource.Definition) (interface{}, error) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apierror.BadRequest("Invalid JSON body")
	}
	value, ok := body[d.Name]
	if !ok {
		return nil, apierror.BadRequest(map[string][]string{d.Name: {"Missing data for required field."}})
	}
	return value, nil
}

func (b *Backend) writeContext(ctx context.Context, tx csql.Queryer, r *http.Request, d *resource.Definition) WriteContext {
	return WriteContext{
		Resource:   d,
		Identity:   core.IdentityFromContext(ctx),
		Tx:         tx,
		ResourceID: pathID(r),
	}
}

func (b *Backend) create(ctx context.Context, tx csql.Queryer, r *http.Request, d *resource.Definition) (interface{}, error) {
	value, err := payload(r, d)
	if err != nil {
		return nil, err
	}
	return b.Create(ctx, b.writeContext(ctx, tx, r, d), value)
}

func (b *Backend) update(ctx context.Context, tx csql.Queryer, r *http.Request, d *resource.Definition) (interface{}, error) {
	value, err := payload(r, d)
	if err != nil {
		return nil, err
	}
	return b.Update(ctx, b.writeContext(ctx, tx, r, d), value)
}

func (b *Backend) delete(ctx context.Context, tx csql.Queryer, r *http.Request, d *resource.Definition) (interface{}, error) {
	ids := core.SplitList(r.URL.Query()["ids"]...)
	return b.Delete(ctx, b.writeContext(ctx, tx, r, d), ids)
}
