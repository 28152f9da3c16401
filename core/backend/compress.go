package backend

import (
	"github.com/gorilla/handlers"
)

func (b *Backend) handleCompression() {
	b.router.Use(handlers.CompressHandler)
}
