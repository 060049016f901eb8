package export

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/extractly/invoice-desk/internal/archive"
	"github.com/extractly/invoice-desk/internal/invoice"
)

func sampleRecord() *archive.Record {
	return &archive.Record{
		ID:            "rec-1",
		UserID:        "user-123",
		InvoiceNumber: "INV-100",
		Vendor:        "Acme Corp",
		InvoiceDate:   "2023-10-01",
		Total:         "100.00",
		Items: []invoice.Item{
			{ItemID: "id-1", Description: "Widget", Quantity: "2", Price: "50", Total: "100"},
		},
		SubmittedAt: time.Date(2023, 10, 2, 9, 30, 0, 0, time.UTC),
	}
}

var _ = Describe("XLSX", func() {
	It("produces a readable workbook with one row per record", func() {
		data, err := XLSX([]*archive.Record{sampleRecord(), sampleRecord()})
		Expect(err).NotTo(HaveOccurred())

		f, err := excelize.OpenReader(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		rows, err := f.GetRows("Invoices")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[0][0]).To(Equal("Invoice Number"))
		Expect(rows[1][0]).To(Equal("INV-100"))
		Expect(rows[1][1]).To(Equal("Acme Corp"))
	})

	It("handles an empty archive", func() {
		data, err := XLSX(nil)
		Expect(err).NotTo(HaveOccurred())

		f, err := excelize.OpenReader(bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		rows, err := f.GetRows("Invoices")
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})
})

var _ = Describe("PDF", func() {
	It("renders a non-empty PDF document", func() {
		data, err := PDF(sampleRecord())
		Expect(err).NotTo(HaveOccurred())
		Expect(len(data)).To(BeNumerically(">", 0))
		Expect(bytes.HasPrefix(data, []byte("%PDF-"))).To(BeTrue())
	})

	It("renders a record without items", func() {
		record := sampleRecord()
		record.Items = nil

		data, err := PDF(record)
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.HasPrefix(data, []byte("%PDF-"))).To(BeTrue())
	})
})
