package backend

import (
	"context"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/extractly/invoice-desk/internal/invoice"
	"github.com/extractly/invoice-desk/internal/session"
)

var _ = Describe("Client", func() {
	var (
		server *ghttp.Server
		client *Client
		ctx    context.Context
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		client = NewClient(server.URL())
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("ProcessInvoice", func() {
		When("the backend succeeds", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/api/process-invoice"),
					ghttp.VerifyContentType("application/json"),
					ghttp.VerifyJSON(`{"user_id": "user-123", "file_path": "user-123/1_invoice.png"}`),
					ghttp.RespondWith(http.StatusOK, `{"status": "success", "data": {"invoice_number": "INV-1"}}`),
				))
			})

			It("returns the status and raw payload", func() {
				status, data, err := client.ProcessInvoice(ctx, "user-123", "user-123/1_invoice.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(status).To(Equal("success"))
				Expect(data).To(MatchJSON(`{"invoice_number": "INV-1"}`))
			})
		})

		When("the backend reports a non-success status", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.RespondWith(http.StatusOK, `{"status": "error", "data": null}`),
				)
			})

			It("returns the status without an error", func() {
				status, _, err := client.ProcessInvoice(ctx, "user-123", "path")
				Expect(err).NotTo(HaveOccurred())
				Expect(status).To(Equal("error"))
			})
		})

		When("the backend returns a server error", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.RespondWith(http.StatusInternalServerError, `boom`),
				)
			})

			It("returns an error", func() {
				_, _, err := client.ProcessInvoice(ctx, "user-123", "path")
				Expect(err).To(MatchError(ContainSubstring("500")))
			})
		})

		When("a session is on the context", func() {
			BeforeEach(func() {
				ctx = session.NewContext(ctx, &session.Session{AccessToken: "user-token"})
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyHeaderKV("Authorization", "Bearer user-token"),
					ghttp.RespondWith(http.StatusOK, `{"status": "success", "data": {}}`),
				))
			})

			It("forwards the bearer token", func() {
				_, _, err := client.ProcessInvoice(ctx, "user-123", "path")
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("ConfirmInvoice", func() {
		var req invoice.ConfirmRequest

		BeforeEach(func() {
			req = invoice.ConfirmRequest{
				UserID: "user-123",
				Invoice: invoice.ConfirmInvoice{
					InvoiceNumber: "INV-100",
					VendorName:    "Acme Corp",
					InvoiceDate:   "2023-10-01",
					TotalAmount:   "100.00",
					Items: []invoice.ConfirmItem{
						{Description: "Widget", Quantity: "2", Price: "50"},
					},
				},
			}
		})

		When("the backend accepts", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/api/confirm-invoice"),
					ghttp.VerifyJSON(`{
						"user_id": "user-123",
						"invoice": {
							"invoice_number": "INV-100",
							"vendor_name": "Acme Corp",
							"invoice_date": "2023-10-01",
							"total_amount": "100.00",
							"items": [{"description": "Widget", "quantity": "2", "price": "50"}]
						}
					}`),
					ghttp.RespondWith(http.StatusOK, `{"status": "ok"}`),
				))
			})

			It("succeeds", func() {
				Expect(client.ConfirmInvoice(ctx, req)).To(Succeed())
			})
		})

		When("the backend rejects", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.RespondWith(http.StatusBadRequest, `bad invoice`),
				)
			})

			It("returns an error", func() {
				Expect(client.ConfirmInvoice(ctx, req)).To(MatchError(ContainSubstring("400")))
			})
		})
	})

	Describe("AllInvoices", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/api/all-invoices"),
				ghttp.RespondWith(http.StatusOK, `[
					{"id": "1", "vendor_name": "Amazon", "invoice_date": "2023-10-01", "total_amount": 100},
					{"id": "2", "vendor_name": "Google", "invoice_date": "2023-10-05", "total_amount": 250.5}
				]`),
			))
		})

		It("decodes the summaries", func() {
			summaries, err := client.AllInvoices(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(Equal([]InvoiceSummary{
				{ID: "1", VendorName: "Amazon", InvoiceDate: "2023-10-01", TotalAmount: 100},
				{ID: "2", VendorName: "Google", InvoiceDate: "2023-10-05", TotalAmount: 250.5},
			}))
		})
	})

	Describe("Dashboard", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/api/invoices"),
				ghttp.RespondWith(http.StatusOK, `{
					"total_revenue": 50000,
					"unique_vendors": 3,
					"monthly_sales": [{"month": "2023-10", "revenue": 1200}],
					"top_vendors": [{"vendor_name": "Amazon", "revenue": 900}],
					"top_products_qty": [{"description": "Widget A", "item_revenue": 500}],
					"product_sales": [{"description": "Widget A", "quantity": 12}],
					"all_vendors": [{"vendor_name": "Amazon", "revenue": 900}],
					"all_appointments": [{"vendor_name": "Vendor 1", "invoice_date": "2023-10-01"}]
				}`),
			))
		})

		It("decodes the aggregates", func() {
			dashboard, err := client.Dashboard(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dashboard.TotalRevenue).To(Equal(50000.0))
			Expect(dashboard.UniqueVendors).To(Equal(3))
			Expect(dashboard.MonthlySales).To(HaveLen(1))
			Expect(dashboard.MonthlySales[0].Month).To(Equal("2023-10"))
			Expect(dashboard.TopProductsQty[0].ItemRevenue).To(Equal(500.0))
			Expect(dashboard.AllAppointments[0].VendorName).To(Equal("Vendor 1"))
		})
	})

	Describe("InvoicesByID", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/invoices-by-id"),
				ghttp.VerifyJSON(`{"ids": ["1", "3"]}`),
				ghttp.RespondWith(http.StatusOK, `[{"id": "1", "vendor_name": "Amazon", "details": "Full Export Data"}]`),
			))
		})

		It("passes the records through untouched", func() {
			raw, err := client.InvoicesByID(ctx, []string{"1", "3"})
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Valid(raw)).To(BeTrue())
			Expect(raw).To(MatchJSON(`[{"id": "1", "vendor_name": "Amazon", "details": "Full Export Data"}]`))
		})
	})
})
