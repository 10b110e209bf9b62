package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kieracarman/canteen/internal/errs"
	"github.com/kieracarman/canteen/internal/models"
	"github.com/kieracarman/canteen/internal/payment"
)

// paymentRequest carries one of: an explicit status, the payment app's
// structured result, or its raw response string.
type paymentRequest struct {
	Status        string          `json:"status"`
	TransactionID string          `json:"transactionId"`
	Result        *payment.Result `json:"result"`
	Response      string          `json:"response"`
}

func (req paymentRequest) resolve() (models.PaymentStatus, string, error) {
	switch {
	case req.Result != nil:
		return payment.Classify(*req.Result), req.Result.TransactionID, nil
	case req.Response != "":
		res := payment.ParseResponse(req.Response)
		return payment.Classify(res), res.TransactionID, nil
	case req.Status != "":
		st, err := models.ParsePaymentStatus(req.Status)
		if err != nil {
			return "", "", errs.InvalidArgument(err.Error())
		}
		return st, req.TransactionID, nil
	}
	return "", "", errs.InvalidArgument("status, result or response is required")
}

func (s *Server) getBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.Billing.Bill(r.Context(), mux.Vars(r)["order"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", bill)
}

func (s *Server) resolvePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	status, txnID, err := req.resolve()
	if err != nil {
		s.fail(w, err)
		return
	}
	bill, err := s.Billing.ResolvePayment(r.Context(), mux.Vars(r)["order"], status, txnID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Payment "+string(bill.PaymentStatus), bill)
}

func (s *Server) abandonBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.Billing.Abandon(r.Context(), mux.Vars(r)["order"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Bill abandoned", bill)
}

func (s *Server) reopenBill(w http.ResponseWriter, r *http.Request) {
	c, err := s.Billing.Reopen(r.Context(), mux.Vars(r)["order"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Cart reopened", viewOf(c))
}

func (s *Server) getReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.Billing.Receipt(r.Context(), mux.Vars(r)["order"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", receipt)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	orders, err := s.Orders.Orders(r.Context(), floor)
	if err != nil {
		s.fail(w, err)
		return
	}
	pending := 0
	for _, o := range orders {
		if o.Status == models.OrderNew {
			pending++
		}
	}
	if orders == nil {
		orders = []models.OrderRecord{}
	}
	s.respond(w, http.StatusOK, "", map[string]interface{}{
		"orders":  orders,
		"pending": pending,
	})
}

func (s *Server) markReady(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	rec, err := s.Orders.MarkReady(r.Context(), floor, mux.Vars(r)["order"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Order ready", rec)
}

func (s *Server) completeOrder(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	if err := s.Orders.Complete(r.Context(), floor, mux.Vars(r)["order"]); err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "Order completed", nil)
}

func (s *Server) clearOrders(w http.ResponseWriter, r *http.Request) {
	floor, ok := s.floor(w, r)
	if !ok {
		return
	}
	n, err := s.Orders.ClearFloor(r.Context(), floor)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, "", map[string]int{"cleared": n})
}
