// Package api exposes the canteen services over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kieracarman/canteen/internal/billing"
	"github.com/kieracarman/canteen/internal/cart"
	"github.com/kieracarman/canteen/internal/catalog"
	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/inventory"
	"github.com/kieracarman/canteen/internal/menu"
	"github.com/kieracarman/canteen/internal/notify"
)

// Deps are the services the API serves
type Deps struct {
	Catalog *catalog.Service
	Menu    *menu.Service
	Ledger  *inventory.Ledger
	Carts   *cart.Registry
	Billing *billing.Engine
	Orders  *notify.Dispatcher
}

// Server routes HTTP requests to the services
type Server struct {
	Deps
	logger *zap.Logger
	router *mux.Router
}

// New creates a server and registers its routes
func New(d Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{Deps: d, logger: logger.Named("http"), router: mux.NewRouter()}
	s.router.Use(s.logRequests)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	// Catalog
	r.HandleFunc("/floors", s.listFloors).Methods(http.MethodGet)
	r.HandleFunc("/floors/{floor}/items", s.listItems).Methods(http.MethodGet)
	r.HandleFunc("/floors/{floor}/items", s.createItem).Methods(http.MethodPost)
	r.HandleFunc("/floors/{floor}/items/{id}", s.getItem).Methods(http.MethodGet)
	r.HandleFunc("/floors/{floor}/items/{id}", s.updateItem).Methods(http.MethodPut)
	r.HandleFunc("/floors/{floor}/items/{id}", s.deleteItem).Methods(http.MethodDelete)
	r.HandleFunc("/floors/{floor}/categories", s.listCategories).Methods(http.MethodGet)
	r.HandleFunc("/items/{id}/stock", s.getStock).Methods(http.MethodGet)

	// Carts
	r.HandleFunc("/carts", s.createCart).Methods(http.MethodPost)
	r.HandleFunc("/carts/{cart}", s.getCart).Methods(http.MethodGet)
	r.HandleFunc("/carts/{cart}", s.releaseCart).Methods(http.MethodDelete)
	r.HandleFunc("/carts/{cart}/items", s.addToCart).Methods(http.MethodPost)
	r.HandleFunc("/carts/{cart}/lines/{item}/increase", s.increaseLine).Methods(http.MethodPost)
	r.HandleFunc("/carts/{cart}/lines/{item}/decrease", s.decreaseLine).Methods(http.MethodPost)
	r.HandleFunc("/carts/{cart}/lines/{item}", s.removeLine).Methods(http.MethodDelete)
	r.HandleFunc("/carts/{cart}/suspend", s.suspendCart).Methods(http.MethodPost)
	r.HandleFunc("/carts/{cart}/resume", s.resumeCart).Methods(http.MethodPost)
	r.HandleFunc("/carts/{cart}/checkout", s.checkout).Methods(http.MethodPost)

	// Bills
	r.HandleFunc("/bills/{order}", s.getBill).Methods(http.MethodGet)
	r.HandleFunc("/bills/{order}/payment", s.resolvePayment).Methods(http.MethodPost)
	r.HandleFunc("/bills/{order}/abandon", s.abandonBill).Methods(http.MethodPost)
	r.HandleFunc("/bills/{order}/reopen", s.reopenBill).Methods(http.MethodPost)
	r.HandleFunc("/bills/{order}/receipt", s.getReceipt).Methods(http.MethodGet)

	// Floor orders
	r.HandleFunc("/floors/{floor}/orders", s.listOrders).Methods(http.MethodGet)
	r.HandleFunc("/floors/{floor}/orders", s.clearOrders).Methods(http.MethodDelete)
	r.HandleFunc("/floors/{floor}/orders/{order}/ready", s.markReady).Methods(http.MethodPost)
	r.HandleFunc("/floors/{floor}/orders/{order}", s.completeOrder).Methods(http.MethodDelete)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, "ok", nil)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type envelope struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, message string, data interface{}) {
	s.write(w, status, envelope{Success: true, Message: message, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("code", code.String()), zap.Error(err))
	}
	s.write(w, status, envelope{Code: code.String(), Message: err.Error()})
}

func (s *Server) write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeInvalidArgument:
		return http.StatusBadRequest
	case errs.CodeItemNotFound:
		return http.StatusNotFound
	case errs.CodeInsufficientStock, errs.CodeDuplicateName, errs.CodeFailedPrecondition, errs.CodePaymentUnresolved:
		return http.StatusConflict
	case errs.CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return errs.Newf(errs.CodeInvalidArgument, "malformed JSON at offset %d", syntax.Offset)
		}
		return errs.Newf(errs.CodeInvalidArgument, "invalid request body: %v", err)
	}
	return nil
}
