package commands

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
	"github.com/AlessioChianetta/Coachale-sub034/logger"
	"github.com/AlessioChianetta/Coachale-sub034/provider"
	"github.com/AlessioChianetta/Coachale-sub034/provisioning"
)

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "provision",
		Aliases: []string{"prov", "request"},
		Short:   "Create and drive provisioning requests",
		Long: `Work with provisioning requests directly against the database and provider,
without going through the HTTP API.

Examples:
  coachale provision create --consultant c-12 --business "Studio Rossi" --email info@studiorossi.it --prefix 02
  coachale provision upload 7 identity_front ./carta-identita.pdf
  coachale provision advance 7
  coachale provision numbers 7 --prefix 02
  coachale provision order 7 +390212345678
  coachale provision ls --status kyc_submitted -o json`,
	}
	cmd.AddCommand(
		newProvisionCreateCmd(),
		newProvisionListCmd(),
		newProvisionShowCmd(),
		newProvisionUploadCmd(),
		newProvisionAdvanceCmd(),
		newProvisionNumbersCmd(),
		newProvisionOrderCmd(),
		newProvisionOutboundCmd(),
	)
	return cmd
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequestf("invalid request id %q", arg)
	}
	return id, nil
}

func requestTable(reqs ...*provisioning.Request) func() pterm.TableData {
	return func() pterm.TableData {
		data := pterm.TableData{{"ID", "CONSULTANT", "BUSINESS", "STATUS", "NUMBER", "UPDATED"}}
		for _, r := range reqs {
			number := r.AssignedNumber
			if number == "" {
				number = r.DesiredNumber
			}
			data = append(data, []string{
				strconv.FormatInt(r.ID, 10),
				r.ConsultantID,
				r.BusinessName,
				string(r.Status),
				number,
				r.UpdatedAt.Local().Format(time.DateTime),
			})
		}
		return data
	}
}

func newProvisionCreateCmd() *cobra.Command {
	var in provisioning.NewRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a provisioning request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.workflow.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return render(cmd, req, requestTable(req))
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.ConsultantID, "consultant", "", "Consultant id (required)")
	f.StringVar(&in.Provider, "provider", provisioning.ProviderTelnyx, "Provider: telnyx or messagenet")
	f.StringVar(&in.BusinessName, "business", "", "Business name (required)")
	f.StringVar(&in.ContactEmail, "email", "", "Contact email (required)")
	f.StringVar(&in.DesiredPrefix, "prefix", "", "Preferred area code, e.g. 02")
	f.StringVar(&in.DesiredNumber, "number", "", "Preferred number in E.164")
	f.StringVar(&in.Details.BusinessType, "business-type", "", "Business type")
	f.StringVar(&in.Details.VATNumber, "vat", "", "VAT number")
	f.StringVar(&in.Details.FiscalCode, "fiscal-code", "", "Fiscal code")
	f.StringVar(&in.Details.LegalAddress, "address", "", "Legal address")
	f.StringVar(&in.Details.City, "city", "", "City")
	f.StringVar(&in.Details.Province, "province", "", "Province")
	f.StringVar(&in.Details.PostalCode, "postal-code", "", "Postal code")
	f.StringVar(&in.Details.ContactPhone, "phone", "", "Contact phone")
	f.StringVar(&in.Details.Notes, "notes", "", "Free-form notes")
	return cmd
}

func newProvisionListCmd() *cobra.Command {
	var (
		consultant string
		status     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List provisioning requests, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := provisioning.ListFilter{ConsultantID: consultant, Limit: limit}
			if status != "" {
				st, err := provisioning.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = st
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			reqs, err := a.store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if reqs == nil {
				reqs = []*provisioning.Request{}
			}
			return render(cmd, reqs, requestTable(reqs...))
		},
	}
	cmd.Flags().StringVar(&consultant, "consultant", "", "Only this consultant's requests")
	cmd.Flags().StringVar(&status, "status", "", "Only requests in this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

// requestView is what show renders.
type requestView struct {
	Request   *provisioning.Request       `json:"request" yaml:"request"`
	Documents []provisioning.Document     `json:"documents" yaml:"documents"`
	Audit     []provisioning.AuditEntry   `json:"audit" yaml:"audit"`
	Missing   []provisioning.DocumentType `json:"missing_documents,omitempty" yaml:"missing_documents,omitempty"`
}

func newProvisionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request with its documents and audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.workflow.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			docs, err := a.store.ListDocuments(cmd.Context(), id)
			if err != nil {
				return err
			}
			view := requestView{
				Request:   req,
				Documents: docs,
				Audit:     req.Audit(),
				Missing:   provisioning.MissingDocuments(docs),
			}
			// The table form is the YAML view; a request has too many fields for columns
			return render(cmd, view, nil)
		},
	}
}

func newProvisionUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <id> <document-type> <file>",
		Short: "Attach a KYC document to a request",
		Long: `Attach a document to a request that has not been submitted yet.

Required document types: identity_front, identity_back, codice_fiscale and
proof_of_address. Optional: vat_certificate, visura_camerale.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			docType, err := provisioning.ParseDocumentType(args[1])
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[2])
			if err != nil {
				return errors.Wrapf(err, "read %s", args[2])
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.workflow.AddDocument(cmd.Context(), id, docType, filepath.Base(args[2]), contentTypeOf(args[2], content), content)
			if err != nil {
				return err
			}
			return render(cmd, doc, func() pterm.TableData {
				return pterm.TableData{
					{"ID", "TYPE", "FILE", "SIZE", "STATUS"},
					{strconv.FormatInt(doc.ID, 10), string(doc.Type), doc.FileName, strconv.Itoa(doc.Size), string(doc.Status)},
				}
			})
		},
	}
}

// contentTypeOf prefers the extension and falls back to sniffing.
func contentTypeOf(path string, content []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}

func newProvisionAdvanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance <id>",
		Short: "Create the managed account and submit KYC",
		Long: `Drive a request as far as it can go without waiting on the provider: create
the managed account if needed, upload documents and submit the requirement
group. Running it again after a failure resumes where it stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.workflow.Run(logger.WithRequestID(cmd.Context(), id), id)
			if err != nil {
				return err
			}
			return render(cmd, req, requestTable(req))
		},
	}
}

func newProvisionNumbersCmd() *cobra.Command {
	var (
		prefix string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "numbers <id>",
		Short: "Search numbers available to an approved request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			numbers, err := a.workflow.SearchNumbers(cmd.Context(), id, prefix, limit)
			if err != nil {
				return err
			}
			if numbers == nil {
				numbers = []provider.AvailableNumber{}
			}
			return render(cmd, numbers, func() pterm.TableData {
				data := pterm.TableData{{"NUMBER", "LOCALITY", "MONTHLY", "CURRENCY"}}
				for _, n := range numbers {
					data = append(data, []string{n.PhoneNumber, n.Locality(), n.CostInformation.MonthlyCost, n.CostInformation.Currency})
				}
				return data
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Area code (defaults to the request's preferred prefix)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum numbers")
	return cmd
}

func newProvisionOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <id> [number]",
		Short: "Order a number for an approved request",
		Long: `Place the number order. Without a number the request's preferred number is
used, or the first available one in its preferred prefix.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var number string
			if len(args) == 2 {
				number = strings.TrimSpace(args[1])
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.workflow.OrderNumber(logger.WithRequestID(cmd.Context(), id), id, number)
			if err != nil {
				return err
			}
			return render(cmd, req, requestTable(req))
		},
	}
}

func newProvisionOutboundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbound <id> <channels>",
		Short: "Set the outbound channel limit of an active request's account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			channels, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.NewInvalidRequestf("invalid channel count %q", args[1])
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.workflow.AllocateOutbound(cmd.Context(), id, channels)
			if err != nil {
				return err
			}
			return render(cmd, req, requestTable(req))
		},
	}
}
