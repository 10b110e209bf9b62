package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/kieracarman/canteen/internal/cart"
	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
)

type cartView struct {
	ID         string            `json:"id"`
	Customer   string            `json:"customerName"`
	State      string            `json:"state"`
	Suspended  bool              `json:"suspended"`
	OrderID    string            `json:"orderId,omitempty"`
	Lines      []models.CartLine `json:"lines"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
	TotalItems int               `json:"totalItems"`
}

func viewOf(c *cart.Cart) cartView {
	lines := c.Lines()
	if lines == nil {
		lines = []models.CartLine{}
	}
	return cartView{
		ID:         c.ID(),
		Customer:   c.Customer(),
		State:      c.State().String(),
		Suspended:  c.Suspended(),
		OrderID:    c.OrderID(),
		Lines:      lines,
		Subtotal:   c.Subtotal(),
		TotalItems: c.TotalItems(),
	}
}

func (s *Server) cart(w http.ResponseWriter, r *http.Request) (*cart.Cart, bool) {
	c, err := s.Carts.Get(mux.Vars(r)["cart"])
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return c, true
}

func (s *Server) createCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerName string `json:"customerName"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		s.fail(w, errs.InvalidArgument("customer name is required"))
		return
	}
	s.respond(w, http.StatusCreated, "Cart created", viewOf(s.Carts.New(name)))
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	view := viewOf(c)
	if q := r.URL.Query().Get("q"); q != "" {
		view.Lines = c.Search(q)
	}
	s.respond(w, http.StatusOK, "", view)
}

// releaseCart returns the reservation and forgets the cart
func (s *Server) releaseCart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	if err := c.ReleaseUnbilled(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.Carts.Drop(c.ID())
	s.respond(w, http.StatusOK, "Cart released", nil)
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemID string `json:"itemId"`
		Name   string `json:"name"`
		Floor  string `json:"floor"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	var (
		item models.MenuItem
		err  error
	)
	switch {
	case req.ItemID != "":
		item, err = s.Catalog.FindByID(r.Context(), req.ItemID)
	case req.Name != "" && req.Floor != "":
		item, err = s.Catalog.FindByName(r.Context(), req.Name, req.Floor)
	default:
		err = errs.InvalidArgument("itemId or name and floor are required")
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	if _, err := c.Add(r.Context(), item); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Added "+item.Name, viewOf(c))
}

func (s *Server) increaseLine(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	if _, err := c.Increase(r.Context(), mux.Vars(r)["item"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", viewOf(c))
}

func (s *Server) decreaseLine(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	line, kept, err := c.Decrease(r.Context(), mux.Vars(r)["item"])
	if err != nil {
		s.fail(w, err)
		return
	}
	msg := ""
	if !kept {
		msg = "Removed " + line.Name
	}
	s.respond(w, http.StatusOK, msg, viewOf(c))
}

func (s *Server) removeLine(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	if err := c.Remove(r.Context(), mux.Vars(r)["item"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", viewOf(c))
}

func (s *Server) suspendCart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	if err := c.Suspend(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Cart suspended", viewOf(c))
}

func (s *Server) resumeCart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	if err := c.Resume(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Cart resumed", viewOf(c))
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	c, ok := s.cart(w, r)
	if !ok {
		return
	}
	bill, err := s.Billing.Checkout(r.Context(), c)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, "Bill created", bill)
}
