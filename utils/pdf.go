package utils

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var pdfMagic = []byte("%PDF-")

// IsPDF reports whether head looks like the start of a PDF file.
func IsPDF(head []byte) bool {
	trimmed := bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n\x00")
	return bytes.HasPrefix(trimmed, pdfMagic)
}

// VerifyPDF rejects bodies that are not PDFs. Portals answer an expired
// export link with an HTML page and a 200.
func VerifyPDF(head []byte, contentType string) error {
	if IsPDF(head) {
		return nil
	}
	return fmt.Errorf("not a PDF document (content-type %q)", contentType)
}

// PDFPageCount reads the page count of a PDF on disk.
func PDFPageCount(path string) (int, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pdf context: %w", err)
	}
	return pdfCtx.PageCount, nil
}

// WrapImageAsPDF writes a single-page Letter PDF holding the PNG at imgPath, scaled to fit.
func WrapImageAsPDF(imgPath, pdfPath string) error {
	const margin = 10.0

	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
	info := pdf.RegisterImageOptions(imgPath, opts)
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("register image: %w", err)
	}

	pageW, pageH := pdf.GetPageSize()
	maxW, maxH := pageW-2*margin, pageH-2*margin
	w, h := info.Width(), info.Height()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("image %s has no extent", imgPath)
	}
	scale := maxW / w
	if h*scale > maxH {
		scale = maxH / h
	}

	pdf.ImageOptions(imgPath, margin, margin, w*scale, h*scale, false, opts, 0, "")
	if err := pdf.OutputFileAndClose(pdfPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
