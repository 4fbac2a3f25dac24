package receipt

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("HTTPPayerDirectory", func() {
	var (
		ctx    context.Context
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	})

	newDirectory := func(server *httptest.Server) *HTTPPayerDirectory {
		return NewHTTPPayerDirectory(DirectoryConfig{
			BaseURL: server.URL,
			APIKey:  "registry-key",
		}, logger)
	}

	It("resolves a payer record from the registry", func() {
		// Given
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/v1/payers/payer-1"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer registry-key"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"name": "Awa Ndiaye",
				"property_id": "prop-17",
				"property_address": "Rue 12, Medina, Dakar",
				"tax_period": "2026-Q1"
			}`))
		}))
		defer server.Close()

		// When
		details, err := newDirectory(server).Lookup(ctx, "payer-1")

		// Then
		Expect(err).ToNot(HaveOccurred())
		Expect(details.Name).To(Equal("Awa Ndiaye"))
		Expect(details.PropertyID).To(Equal("prop-17"))
		Expect(details.TaxPeriod).To(Equal("2026-Q1"))
	})

	It("treats an unknown payer as no details rather than an error", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		details, err := newDirectory(server).Lookup(ctx, "stranger")

		Expect(err).ToNot(HaveOccurred())
		Expect(details).To(BeNil())
	})

	It("reports registry failures", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newDirectory(server).Lookup(ctx, "payer-1")

		Expect(err).To(HaveOccurred())
	})
})
