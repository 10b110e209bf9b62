package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/kieracarman/canteen/internal/catalog"
	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/menu"
)

type itemRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Stock       *int            `json:"stock"`
	ImageRef    string          `json:"imageRef"`
}

type floorSummary struct {
	Floor         string `json:"floor"`
	Items         int    `json:"items"`
	PendingOrders int    `json:"pendingOrders"`
}

func (s *Server) floor(w http.ResponseWriter, r *http.Request) (string, bool) {
	floor := mux.Vars(r)["floor"]
	if !s.Catalog.HasFloor(floor) {
		s.fail(w, errs.Newf(errs.CodeItemNotFound, "unknown floor %q", floor))
		return "", false
	}
	return floor, true
}

func (s *Server) listFloors(w http.ResponseWriter, r *http.Request) {
	floors := s.Catalog.Floors()
	out := make([]floorSummary, 0, len(floors))
	for _, f := range floors {
		n, err := s.Catalog.Count(r.Context(), f)
		if err != nil {
			s.fail(w, err)
			return
		}
		pending, err := s.Orders.PendingCount(r.Context(), f)
		if err != nil {
			s.fail(w, err)
			return
		}
		out = append(out, floorSummary{Floor: f, Items: n, PendingOrders: pending})
	}
	s.respond(w, http.StatusOK, "", out)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	inStock, _ := strconv.ParseBool(q.Get("inStock"))
	items, err := s.Menu.Search(r.Context(), floor, menu.Query{
		Text:        q.Get("q"),
		Category:    q.Get("category"),
		InStockOnly: inStock,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", items)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	cats, err := s.Menu.Categories(r.Context(), floor)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", cats)
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	item, err := s.Catalog.Add(r.Context(), catalog.NewItem{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Floor:       floor,
		Stock:       req.Stock,
		ImageRef:    req.ImageRef,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusCreated, "Item added", item)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	item, err := s.Catalog.FindByID(r.Context(), id)
	if err == nil && item.Floor != floor {
		err = errs.Newf(errs.CodeItemNotFound, "item %s not found on %s", id, floor)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", item)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	item, err := s.Catalog.Update(r.Context(), floor, mux.Vars(r)["id"], catalog.ItemUpdate{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Stock:       req.Stock,
		ImageRef:    req.ImageRef,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Item updated", item)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	if err := s.Catalog.Delete(r.Context(), floor, mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Item deleted", nil)
}

// getStock reads the live count, bypassing the menu cache
func (s *Server) getStock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := s.Ledger.Stock(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", map[string]interface{}{"itemId": id, "stock": n})
}
