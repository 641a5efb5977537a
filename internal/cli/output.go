// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-sessionkey.
//
// go-sessionkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/health"
	"github.com/jeremyhahn/go-sessionkey/pkg/sessionkey"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintStatus prints the state of the session alias
func (p *Printer) PrintStatus(st *sessionkey.Status) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(st)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Alias:       %s\n", st.Alias)
		fmt.Fprintf(p.writer, "Backend:     %s\n", st.Backend)
		fmt.Fprintf(p.writer, "State:       %s\n", st.State)
		fmt.Fprintf(p.writer, "Key pair:    %t\n", st.HasKey)
		fmt.Fprintf(p.writer, "Sealed blob: %t\n", st.SealedBlob)
		fmt.Fprintf(p.writer, "Assurance:   %s\n", st.Assurance)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintUnsealed prints the length and SHA-256 fingerprint of an unsealed
// session password. The secret itself is printed, base64 encoded, only
// when reveal is set.
func (p *Printer) PrintUnsealed(alias string, pw *sessionkey.SessionPassword, reveal bool) error {
	sum := sha256.Sum256(pw.Bytes())
	fingerprint := hex.EncodeToString(sum[:8])
	var encoded string
	if reveal {
		encoded = base64.StdEncoding.EncodeToString(pw.Bytes())
	}

	switch p.format {
	case OutputFormatJSON:
		out := map[string]interface{}{
			"alias":       alias,
			"length":      pw.Len(),
			"fingerprint": fingerprint,
		}
		if reveal {
			out["secret"] = encoded
		}
		return p.printJSON(out)
	case OutputFormatText:
		if reveal {
			fmt.Fprintln(p.writer, encoded)
			return nil
		}
		fmt.Fprintf(p.writer, "Session password unsealed: %d bytes, fingerprint %s\n", pw.Len(), fingerprint)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintBackendList prints the backends compiled into this binary
func (p *Printer) PrintBackendList(compiled []types.BackendType, configured types.BackendType) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"backends":   compiled,
			"configured": configured,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, "Available Backends:")
		for _, b := range compiled {
			marker := ""
			if b == configured {
				marker = " (configured)"
			}
			fmt.Fprintf(p.writer, "  - %s%s\n", b, marker)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintBackendInfo prints how a backend classifies key isolation
func (p *Printer) PrintBackendInfo(info *backendInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(info)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Backend:   %s\n", info.Name)
		fmt.Fprintf(p.writer, "Compiled:  %t\n", info.Compiled)
		fmt.Fprintf(p.writer, "Build tag: %s\n", info.BuildTag)
		fmt.Fprintln(p.writer, "Assurance:")
		for _, a := range info.Assurance {
			fmt.Fprintf(p.writer, "  %-24s %s\n", a.Level, a.When)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHealth prints a diagnostics report
func (p *Printer) PrintHealth(report *health.Report) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(report)
	case OutputFormatText:
		for _, r := range report.Checks {
			detail := r.Message
			if r.Error != "" {
				detail = r.Error
			}
			fmt.Fprintf(p.writer, "%-10s %-10s %s\n", r.Name, r.Status, detail)
		}
		fmt.Fprintf(p.writer, "Overall: %s\n", report.Status)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintConfig prints the effective configuration
func (p *Printer) PrintConfig(cfg *config.Config) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(cfg)
	case OutputFormatText:
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = p.writer.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"success": true,
			"message": message,
		})
	default:
		fmt.Fprintln(p.writer, message)
		return nil
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
