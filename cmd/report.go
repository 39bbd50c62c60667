package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/spf13/cobra"

	"github.com/crxlens/crxlens/internal/analysis"
	"github.com/crxlens/crxlens/internal/cache"
	"github.com/crxlens/crxlens/internal/store"
)

var reportCmd = &cobra.Command{
	Use:   "report <extension-id>",
	Short: "Export a cached analysis as a PDF report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extensionID := strings.TrimSpace(args[0])
		storeName, _ := cmd.Flags().GetString("store")
		output, _ := cmd.Flags().GetString("output")

		st, err := store.ParseStore(storeName)
		if err != nil {
			return err
		}

		c, err := newCache()
		if err != nil {
			return err
		}
		defer c.Close()

		result, err := c.Get(cmd.Context(), cache.Key{ExtensionID: extensionID, Store: st})
		if err != nil {
			return fmt.Errorf("no cached analysis for %s (%s); run analyze first: %w", extensionID, st, err)
		}

		if output == "" {
			output = fmt.Sprintf("%s-%s.pdf", st, extensionID)
		}
		if err := writePDFReport(output, extensionID, st, result); err != nil {
			return err
		}

		fmt.Printf("%s report written to %s\n", colorSuccess("✓"), output)
		return nil
	},
}

func init() {
	reportCmd.Flags().String("store", "chrome", "extension store: chrome or edge")
	reportCmd.Flags().StringP("output", "o", "", "output PDF path (default <store>-<id>.pdf)")
}

func writePDFReport(path, id string, st store.Store, result *analysis.Result) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("Extension Analysis: %s", id), "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Store: %s", st), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")
	if m := result.Manifest; m != nil {
		pdf.CellFormat(0, 6, fmt.Sprintf("Name: %s    Version: %s", m.Name, m.Version), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Permission risk score: %.2f", result.PermissionsScore), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, "Declared permissions", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	if len(result.Permissions) == 0 {
		pdf.CellFormat(0, 6, "none", "", 1, "L", false, 0, "")
	}
	for _, p := range result.Permissions {
		pdf.CellFormat(0, 6, "- "+p, "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, "Third-party domains", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	if len(result.ThirdPartyDomains) == 0 {
		pdf.CellFormat(0, 6, "none", "", 1, "L", false, 0, "")
	}
	for _, d := range result.ThirdPartyDomains {
		pdf.CellFormat(0, 6, "- "+d, "", 1, "L", false, 0, "")
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write PDF report: %w", err)
	}
	return nil
}
