package backend

import (
	"fmt"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/audit"
	"github.com/relabs-tech/awokado/core/csql"
	"github.com/relabs-tech/awokado/core/logger"
	"github.com/relabs-tech/awokado/core/resource"
	"github.com/relabs-tech/awokado/core/schema"
)

// Backend is the generic rest backend
type Backend struct {
	registry  *resource.Registry
	db        *csql.DB
	router    *mux.Router
	validator *schema.Validator
	audit     core.Auditor
	debug     bool
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Registry holds the resource definitions. It is sealed by New if it is not sealed yet.
	// This is mandatory.
	Registry *resource.Registry
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Audit receives a record of every modifying operation. This is optional, the
	// default writes records to the request logger.
	Audit core.Auditor
	// Debug adds the text of internal errors to error responses
	Debug bool
	// Compression compresses responses for clients which accept it
	Compression bool
}

// New realizes the actual backend. It validates the resource definitions, generates
// the payload schemas and adds the routes of all resources to the router
func New(bb *Builder) *Backend {
	if bb.Registry == nil {
		panic("Registry is missing")
	}
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if !bb.Registry.Sealed() {
		bb.Registry.MustSeal()
	}

	validator, err := schema.NewValidatorForResources(bb.Registry.All())
	if err != nil {
		panic(fmt.Errorf("invalid resource schemas: %w", err))
	}

	b := &Backend{
		registry:  bb.Registry,
		db:        bb.DB,
		router:    bb.Router,
		validator: validator,
		audit:     bb.Audit,
		debug:     bb.Debug,
	}
	if b.audit == nil {
		b.audit = audit.Log{}
	}

	if bb.Compression {
		b.handleCompression()
	}
	b.handleVersion(b.router)
	b.handleRoutes(b.router)
	return b
}

// Registry returns the resource registry
func (b *Backend) Registry() *resource.Registry {
	return b.registry
}

// handleRoutes adds the handlers of all resources
func (b *Backend) handleRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	for _, d := range b.registry.All() {
		nillog.Debugln("create resource:", d.Name)
		b.createResource(router, d)
	}
}
