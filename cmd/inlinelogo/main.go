package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/jsvensson/inlinelogo"
	"github.com/jsvensson/inlinelogo/internal/format"
)

var (
	flagConfig    string
	flagVerbose   int
	flagLog       string
	flagOut       string
	flagBaseURL   string
	flagStrict    bool
	flagListen    string
	flagUpstream  string
	flagRateLimit int
	flagCheck     bool
	version       = "dev" // Injected at build time via ldflags
)

var rootCmd = &cobra.Command{
	Use:     "inlinelogo",
	Short:   "Replace site logo images with their inline SVG markup",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configureLogging()
	},
	SilenceUsage: true,
}

var inlineCmd = &cobra.Command{
	Use:   "inline [file|URL|-]",
	Short: "Inline the logos of a single HTML page",
	Long: "Read an HTML page from a file, a URL or stdin, replace every logo image whose " +
		"source is an SVG with the SVG itself, and write the page to --out.",
	Args: cobra.MaximumNArgs(1),
	RunE: runInline,
}

var fmtCmd = &cobra.Command{
	Use:   "fmt [files...]",
	Short: "Format inlinelogo config files",
	Long:  "Format one or more config files in-place. Prints the name of each file that was modified.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFmt,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to HCL config file")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (can be repeated)")
	rootCmd.PersistentFlags().StringVar(&flagLog, "log", "", "write logs to this file instead of stderr")

	inlineCmd.Flags().StringVarP(&flagOut, "out", "o", "", "output file (default stdout)")
	inlineCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "resolve relative logo sources against this URL")
	inlineCmd.Flags().BoolVar(&flagStrict, "strict", false, "exit non-zero when any logo could not be inlined")

	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&flagUpstream, "upstream", "", "upstream site URL (overrides config)")
	serveCmd.Flags().IntVar(&flagRateLimit, "rate-limit", -1, "requests per minute per client, 0 disables (overrides config)")

	fmtCmd.Flags().BoolVarP(&flagCheck, "check", "c", false, "check if files are formatted (do not write changes)")

	rootCmd.AddCommand(inlineCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(versionCmd)
}

func configureLogging() {
	var path *string
	if flagLog != "" {
		path = &flagLog
	}
	commonlog.Configure(flagVerbose, path)
}

func runInline(cmd *cobra.Command, args []string) error {
	site, err := inlinelogo.Load(flagConfig)
	if err != nil {
		return err
	}

	var base *url.URL
	if flagBaseURL != "" {
		if base, err = parseBaseURL(flagBaseURL); err != nil {
			return err
		}
	}

	src := "-"
	if len(args) == 1 {
		src = args[0]
	}
	page, pageURL, err := readPage(cmd.Context(), site, cmd.InOrStdin(), src)
	if err != nil {
		return err
	}
	if base == nil {
		base = pageURL
	}

	var out bytes.Buffer
	report, err := site.InlineHTML(cmd.Context(), &out, page, base)
	if err != nil {
		return fmt.Errorf("inlining %s: %w", src, err)
	}
	if err := writeOutput(cmd.OutOrStdout(), out.Bytes()); err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), report)
	if flagStrict && report.Failed() {
		return fmt.Errorf("some logos were not inlined")
	}
	return nil
}

// readPage opens src. For URL input the returned URL is the page address.
func readPage(ctx context.Context, site *inlinelogo.Site, stdin io.Reader, src string) (io.Reader, *url.URL, error) {
	switch {
	case src == "-":
		return stdin, nil, nil
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		u, err := parseBaseURL(src)
		if err != nil {
			return nil, nil, err
		}
		res := site.Fetcher.Page(ctx, u.String())
		if !res.OK() {
			return nil, nil, res.Err
		}
		return bytes.NewReader(res.Body), u, nil
	default:
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, nil, fmt.Errorf("reading page: %w", err)
		}
		return bytes.NewReader(data), nil, nil
	}
}

func parseBaseURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", s, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: must be absolute", s)
	}
	return u, nil
}

func writeOutput(stdout io.Writer, data []byte) error {
	if flagOut == "" || flagOut == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(flagOut, data, 0o644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

func runFmt(cmd *cobra.Command, args []string) error {
	hasErrors := false
	needsFormatting := false

	for _, path := range args {
		changed, err := format.File(path, !flagCheck)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			hasErrors = true
		}
		if changed {
			fmt.Fprintln(cmd.OutOrStdout(), path)
			needsFormatting = true
		}
	}

	if hasErrors {
		return fmt.Errorf("formatting failed")
	}
	if flagCheck && needsFormatting {
		return fmt.Errorf("files need formatting")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
