package api

import (
	"net/http"

	"github.com/ignite/audience-crm/internal/pkg/httputil"
	"github.com/ignite/audience-crm/internal/service/customer"
)

// AddCustomer stores a customer with their order history.
//
//	POST /customer/add
func (h *Handlers) AddCustomer(w http.ResponseWriter, r *http.Request) {
	var in customer.AddInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.CreatedBy = callerID(r)

	c, err := h.customers.Add(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, httputil.Body{"message": "Customer added", "data": c})
}

// ListCustomers returns every customer, newest first.
//
//	GET /customer/list
func (h *Handlers) ListCustomers(w http.ResponseWriter, r *http.Request) {
	out, err := h.customers.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"message": "Customers fetched", "data": out})
}

// DeleteCustomer removes a customer and returns the deleted record.
//
//	DELETE /customer/{customerId}
func (h *Handlers) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.customers.Delete(r.Context(), pathID(r, "customerId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"message": "Customer deleted", "data": c})
}

// AddOrder appends an order and returns the customer with refreshed totals.
//
//	POST /customer/{customerId}/orders
func (h *Handlers) AddOrder(w http.ResponseWriter, r *http.Request) {
	var in customer.OrderInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	c, err := h.customers.AddOrder(r.Context(), pathID(r, "customerId"), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"message": "Order added", "data": c})
}
