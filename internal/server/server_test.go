package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/extractly/invoice-desk/internal/archive"
	"github.com/extractly/invoice-desk/internal/backend"
	"github.com/extractly/invoice-desk/internal/extract"
	"github.com/extractly/invoice-desk/internal/invoice"
	"github.com/extractly/invoice-desk/internal/session"
)

var _ = Describe("Server", func() {
	var (
		authServer    *ghttp.Server
		backendServer *ghttp.Server
		api           *httptest.Server
		previews      *memStore
		remote        *memStore
		extractor     *stubExtractor
		confirmer     *stubConfirmer
		store         *archive.Store
		token         string
	)

	do := func(method, path, token string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, api.URL+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	uploadFile := func(token, filename string, data []byte, contentType string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())
		return do("POST", "/api/upload", token, &buf, mw.FormDataContentType())
	}

	getDraft := func(token string) draftResponse {
		var dr draftResponse
		decode(do("GET", "/api/draft", token, nil, ""), &dr)
		return dr
	}

	BeforeEach(func() {
		authServer = ghttp.NewServer()
		backendServer = ghttp.NewServer()
		previews = newMemStore()
		remote = newMemStore()
		ext := sampleExtraction()
		extractor = &stubExtractor{inv: &ext}
		confirmer = &stubConfirmer{}

		var err error
		store, err = archive.NewStore(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())

		srv := NewServer(Deps{
			Auth:      session.NewClient(authServer.URL(), "anon-key", testJWTSecret),
			Previews:  previews,
			Remote:    remote,
			Extractor: extractor,
			Confirmer: confirmer,
			Archive:   store,
			Analytics: backend.NewClient(backendServer.URL()),
		})
		api = httptest.NewServer(srv)

		token = mintToken("user-123")
	})

	AfterEach(func() {
		api.Close()
		authServer.Close()
		backendServer.Close()
		store.Close()
	})

	Describe("handleHealth", func() {
		It("returns ok", func() {
			resp := do("GET", "/api/health", "", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("status", "ok"))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests without touching handlers", func() {
			req, err := http.NewRequest("OPTIONS", api.URL+"/api/draft", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("session endpoints", func() {
		Describe("handleSignIn", func() {
			When("the auth provider accepts", func() {
				BeforeEach(func() {
					authServer.AppendHandlers(ghttp.CombineHandlers(
						ghttp.VerifyRequest("POST", "/token", "grant_type=password"),
						ghttp.VerifyHeaderKV("apikey", "anon-key"),
						ghttp.RespondWith(http.StatusOK, `{
							"access_token": "tok",
							"refresh_token": "refresh",
							"expires_in": 3600,
							"user": {"id": "user-123", "email": "u@example.com"}
						}`),
					))
				})

				It("returns the session", func() {
					resp := do("POST", "/api/session/signin", "", strings.NewReader(`{"email": "u@example.com", "password": "pw"}`), "application/json")
					Expect(resp.StatusCode).To(Equal(http.StatusOK))
					var sess session.Session
					decode(resp, &sess)
					Expect(sess.AccessToken).To(Equal("tok"))
					Expect(sess.UserID).To(Equal("user-123"))
				})
			})

			When("the auth provider rejects", func() {
				BeforeEach(func() {
					authServer.AppendHandlers(
						ghttp.RespondWith(http.StatusBadRequest, `{"error": "invalid_grant"}`),
					)
				})

				It("returns unauthorized", func() {
					resp := do("POST", "/api/session/signin", "", strings.NewReader(`{"email": "u@example.com", "password": "wrong"}`), "application/json")
					defer resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				})
			})
		})

		Describe("handleSignOut", func() {
			When("a valid bearer token is present", func() {
				BeforeEach(func() {
					authServer.AppendHandlers(ghttp.CombineHandlers(
						ghttp.VerifyRequest("POST", "/logout"),
						ghttp.RespondWith(http.StatusNoContent, nil),
					))
				})

				It("revokes the token", func() {
					resp := do("POST", "/api/session/signout", token, nil, "")
					defer resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				})
			})

			When("no token is present", func() {
				It("returns unauthorized", func() {
					resp := do("POST", "/api/session/signout", "", nil, "")
					defer resp.Body.Close()
					Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				})
			})
		})
	})

	Describe("draft editing", func() {
		It("starts with an empty, unsubmittable draft", func() {
			dr := getDraft(token)
			Expect(dr.Draft.InvoiceNumber).To(BeEmpty())
			Expect(dr.Draft.Items).To(BeEmpty())
			Expect(dr.CanSubmit).To(BeFalse())
		})

		Describe("handleAddItem", func() {
			It("accepts a valid item", func() {
				resp := do("POST", "/api/draft/items", token, strings.NewReader(`{"description": "Widget", "quantity": "2", "price": "50", "total": "100"}`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var item invoice.Item
				decode(resp, &item)
				Expect(item.ItemID).NotTo(BeEmpty())
				Expect(getDraft(token).Draft.Items).To(HaveLen(1))
			})

			It("rejects a fractional quantity", func() {
				resp := do("POST", "/api/draft/items", token, strings.NewReader(`{"description": "Widget", "quantity": "1.5", "price": "50", "total": "75"}`), "application/json")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(getDraft(token).Draft.Items).To(BeEmpty())
			})
		})

		Describe("handlePatchHeader", func() {
			It("updates only the provided fields", func() {
				resp := do("PATCH", "/api/draft/header", token, strings.NewReader(`{"vendor": "Acme Corp", "total": "100.00"}`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var dr draftResponse
				decode(resp, &dr)
				Expect(dr.Draft.Vendor).To(Equal("Acme Corp"))
				Expect(dr.Draft.Total).To(Equal("100.00"))
				Expect(dr.Draft.InvoiceNumber).To(BeEmpty())
			})
		})

		Describe("handleUpdateItem", func() {
			var itemID string

			BeforeEach(func() {
				resp := do("POST", "/api/draft/items", token, strings.NewReader(`{"description": "Widget", "quantity": "2", "price": "50", "total": "100"}`), "application/json")
				var item invoice.Item
				decode(resp, &item)
				itemID = item.ItemID
			})

			It("replaces the item's fields", func() {
				resp := do("PUT", "/api/draft/items/"+itemID, token, strings.NewReader(`{"description": "Widget XL", "quantity": "3", "price": "60", "total": "180"}`), "application/json")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()

				items := getDraft(token).Draft.Items
				Expect(items).To(HaveLen(1))
				Expect(items[0].ItemID).To(Equal(itemID))
				Expect(items[0].Description).To(Equal("Widget XL"))
			})

			It("rejects invalid fields", func() {
				resp := do("PUT", "/api/draft/items/"+itemID, token, strings.NewReader(`{"description": "", "quantity": "3", "price": "60", "total": "180"}`), "application/json")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})

			It("404s for an unknown item", func() {
				resp := do("PUT", "/api/draft/items/nope", token, strings.NewReader(`{"description": "X", "quantity": "1", "price": "1", "total": "1"}`), "application/json")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("handleDeleteItem", func() {
			It("removes the item", func() {
				resp := do("POST", "/api/draft/items", token, strings.NewReader(`{"description": "Widget", "quantity": "2", "price": "50", "total": "100"}`), "application/json")
				var item invoice.Item
				decode(resp, &item)

				del := do("DELETE", "/api/draft/items/"+item.ItemID, token, nil, "")
				del.Body.Close()
				Expect(del.StatusCode).To(Equal(http.StatusNoContent))
				Expect(getDraft(token).Draft.Items).To(BeEmpty())
			})

			It("404s for an unknown item", func() {
				resp := do("DELETE", "/api/draft/items/nope", token, nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("selection", func() {
			var itemID string

			BeforeEach(func() {
				resp := do("POST", "/api/draft/items", token, strings.NewReader(`{"description": "Widget", "quantity": "2", "price": "50", "total": "100"}`), "application/json")
				var item invoice.Item
				decode(resp, &item)
				itemID = item.ItemID
			})

			It("selects and toggles off", func() {
				resp := do("POST", "/api/draft/items/"+itemID+"/select", token, nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(getDraft(token).Draft.SelectedID).To(Equal(itemID))

				resp = do("POST", "/api/draft/items/"+itemID+"/select", token, nil, "")
				resp.Body.Close()
				Expect(getDraft(token).Draft.SelectedID).To(BeEmpty())
			})

			It("clears via the selection endpoint", func() {
				do("POST", "/api/draft/items/"+itemID+"/select", token, nil, "").Body.Close()

				resp := do("DELETE", "/api/draft/selection", token, nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(getDraft(token).Draft.SelectedID).To(BeEmpty())
			})
		})

		It("keeps workspaces isolated per user", func() {
			do("POST", "/api/draft/items", token, strings.NewReader(`{"description": "Widget", "quantity": "2", "price": "50", "total": "100"}`), "application/json").Body.Close()

			other := mintToken("user-456")
			Expect(getDraft(other).Draft.Items).To(BeEmpty())
			Expect(getDraft(token).Draft.Items).To(HaveLen(1))
		})

		It("restores a saved draft snapshot on first use", func() {
			saved := invoice.Draft{InvoiceNumber: "INV-7", Vendor: "Saved Vendor", Items: []invoice.Item{}}
			Expect(store.SaveDraft("user-123", saved)).To(Succeed())

			dr := getDraft(token)
			Expect(dr.Draft.InvoiceNumber).To(Equal("INV-7"))
			Expect(dr.Draft.Vendor).To(Equal("Saved Vendor"))
		})
	})

	Describe("handleUpload", func() {
		When("a signed-in user uploads a file", func() {
			var resp *http.Response

			BeforeEach(func() {
				resp = uploadFile(token, "invoice.png", []byte("png-bytes"), "image/png")
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("returns the populated draft", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var ur uploadResponse
				decode(resp, &ur)
				Expect(ur.Draft.InvoiceNumber).To(Equal("INV-100"))
				Expect(ur.Draft.Items).To(HaveLen(1))
				Expect(ur.State.Uploading).To(BeFalse())
				Expect(ur.State.Failure).To(BeEmpty())
			})

			It("stores the file under the user's namespace", func() {
				Expect(extractor.lastReq.UserID).To(Equal("user-123"))
				Expect(extractor.lastReq.FilePath).To(HavePrefix("user-123/"))
			})

			It("serves the preview it wrote", func() {
				var ur uploadResponse
				decode(resp, &ur)
				Expect(ur.Draft.ImagePreview).NotTo(BeEmpty())

				preview := do("GET", "/api/preview/"+ur.Draft.ImagePreview, token, nil, "")
				defer preview.Body.Close()
				Expect(preview.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("no bearer token is sent", func() {
			It("fails with the session failure class", func() {
				resp := uploadFile("", "invoice.png", []byte("png-bytes"), "image/png")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

				var ur uploadResponse
				decode(resp, &ur)
				Expect(ur.State.Failure).To(Equal(invoice.FailureSessionMissing))
			})
		})

		When("the file type is not supported", func() {
			It("rejects it before the pipeline runs", func() {
				resp := uploadFile(token, "notes.txt", []byte("text"), "text/plain")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
				Expect(extractor.calls).To(BeZero())
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.err = extract.ErrNotSuccess
			})

			It("reports the extraction failure class", func() {
				resp := uploadFile(token, "invoice.png", []byte("png-bytes"), "image/png")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				state := do("GET", "/api/upload/state", token, nil, "")
				var st invoice.UploadState
				decode(state, &st)
				Expect(st.Failure).To(Equal(invoice.FailureExtraction))
			})
		})
	})

	Describe("handleSubmit", func() {
		When("the draft is incomplete", func() {
			It("returns 422 and calls nothing", func() {
				resp := do("POST", "/api/submit", token, nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(confirmer.calls).To(BeZero())
			})
		})

		When("an extracted draft is submitted", func() {
			BeforeEach(func() {
				uploadFile(token, "invoice.png", []byte("png-bytes"), "image/png").Body.Close()
			})

			It("confirms, archives and resets", func() {
				resp := do("POST", "/api/submit", token, nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				Expect(confirmer.calls).To(Equal(1))
				Expect(confirmer.last.UserID).To(Equal("user-123"))
				Expect(confirmer.last.Invoice.Items).To(Equal([]invoice.ConfirmItem{
					{Description: "Widget", Quantity: "2", Price: "50"},
				}))

				records, err := store.ListSubmissions("user-123")
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))

				Expect(getDraft(token).Draft.InvoiceNumber).To(BeEmpty())
			})

			It("deletes the draft snapshot", func() {
				do("POST", "/api/submit", token, nil, "").Body.Close()

				_, err := store.LoadDraft("user-123")
				Expect(err).To(MatchError(archive.ErrNotFound))
			})

			It("preserves the draft when the backend rejects", func() {
				confirmer.err = errors.New("backend down")

				resp := do("POST", "/api/submit", token, nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(getDraft(token).Draft.InvoiceNumber).To(Equal("INV-100"))
			})
		})
	})

	Describe("analytics proxy", func() {
		It("proxies the invoice list", func() {
			backendServer.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/api/all-invoices"),
				ghttp.RespondWith(http.StatusOK, `[{"id": "1", "vendor_name": "Amazon", "invoice_date": "2023-10-01", "total_amount": 100}]`),
			))

			resp := do("GET", "/api/all-invoices", token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var summaries []backend.InvoiceSummary
			decode(resp, &summaries)
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].VendorName).To(Equal("Amazon"))
		})

		It("proxies the dashboard aggregates", func() {
			backendServer.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/api/invoices"),
				ghttp.RespondWith(http.StatusOK, `{"total_revenue": 50000, "unique_vendors": 3}`),
			))

			resp := do("GET", "/api/invoices", token, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var dashboard backend.Dashboard
			decode(resp, &dashboard)
			Expect(dashboard.TotalRevenue).To(Equal(50000.0))
		})

		It("proxies the full-record lookup", func() {
			backendServer.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/invoices-by-id"),
				ghttp.VerifyJSON(`{"ids": ["1"]}`),
				ghttp.RespondWith(http.StatusOK, `[{"id": "1", "details": "full"}]`),
			))

			resp := do("POST", "/api/invoices-by-id", token, strings.NewReader(`{"ids": ["1"]}`), "application/json")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(MatchJSON(`[{"id": "1", "details": "full"}]`))
		})

		It("maps backend failures to 502", func() {
			backendServer.AppendHandlers(
				ghttp.RespondWith(http.StatusInternalServerError, `boom`),
			)

			resp := do("GET", "/api/all-invoices", token, nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("exports", func() {
		BeforeEach(func() {
			uploadFile(token, "invoice.png", []byte("png-bytes"), "image/png").Body.Close()
			do("POST", "/api/submit", token, nil, "").Body.Close()
		})

		It("downloads the archive as a workbook", func() {
			resp := do("GET", "/api/export/invoices.xlsx", token, nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).NotTo(BeEmpty())
		})

		It("renders a single submission as PDF", func() {
			records, err := store.ListSubmissions("user-123")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))

			resp := do("GET", "/api/export/invoices/"+records[0].ID+".pdf", token, nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(bytes.HasPrefix(body, []byte("%PDF-"))).To(BeTrue())
		})

		It("404s for an unknown submission", func() {
			resp := do("GET", "/api/export/invoices/nope.pdf", token, nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
