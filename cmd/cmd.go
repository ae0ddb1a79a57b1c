package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmorganca/gptenc/api"
	"github.com/jmorganca/gptenc/bpe"
	"github.com/jmorganca/gptenc/envconfig"
	"github.com/jmorganca/gptenc/format"
	"github.com/jmorganca/gptenc/logutil"
	"github.com/jmorganca/gptenc/server"
	"github.com/jmorganca/gptenc/version"
	"github.com/jmorganca/gptenc/vocab"
)

var errNoInput = errors.New("no input: pass it as arguments or pipe it to stdin")

// isTerminal reports whether r is an interactive terminal.
var isTerminal = func(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readText joins args, or reads all of stdin when there are none.
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	in := cmd.InOrStdin()
	if isTerminal(in) {
		return "", errNoInput
	}

	b, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// parseIDs accepts ids separated by spaces or commas, optionally wrapped in
// a JSON array.
func parseIDs(s string) ([]uint32, error) {
	fields := strings.FieldsFunc(strings.Trim(strings.TrimSpace(s), "[]"), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})

	ids := make([]uint32, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q", f)
		}

		ids = append(ids, uint32(id))
	}

	return ids, nil
}

func loadModel(cmd *cobra.Command) (*vocab.Model, error) {
	source, _ := cmd.Flags().GetString("vocab")
	if source == "" {
		source = envconfig.Vocab
	}

	return vocab.Load(source)
}

func loadEncoder(cmd *cobra.Command) (*bpe.Encoder, error) {
	m, err := loadModel(cmd)
	if err != nil {
		return nil, err
	}

	cache, err := bpe.NewCache(envconfig.CacheSize)
	if err != nil {
		return nil, err
	}

	enc, err := m.NewEncoder(bpe.WithCache(cache), bpe.WithParallelism(envconfig.NumParallel))
	if err != nil {
		return nil, err
	}

	special, _ := cmd.Flags().GetBool("special")
	return enc.WithSpecial(special), nil
}

func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	if remote, _ := cmd.Flags().GetBool("remote"); !remote {
		return nil
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	if err := client.Heartbeat(cmd.Context()); err != nil {
		if !strings.Contains(err.Error(), " refused") {
			return err
		}

		return fmt.Errorf("could not connect to gptenc server at %s, run 'gptenc serve' to start it", envconfig.Host().Host)
	}

	return nil
}

func writeIDs(cmd *cobra.Command, ids []uint32) error {
	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return json.NewEncoder(w).Encode(ids)
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}

	_, err := fmt.Fprintln(w, strings.Join(parts, " "))
	return err
}

func EncodeHandler(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	special, _ := cmd.Flags().GetBool("special")
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		resp, err := client.Tokenize(cmd.Context(), &api.TokenizeRequest{Text: text, Special: special})
		if err != nil {
			return err
		}

		return writeIDs(cmd, resp.Tokens)
	}

	enc, err := loadEncoder(cmd)
	if err != nil {
		return err
	}

	ids, err := enc.Encode(text)
	if err != nil {
		return err
	}

	return writeIDs(cmd, ids)
}

func DecodeHandler(cmd *cobra.Command, args []string) error {
	input, err := readText(cmd, args)
	if err != nil {
		return err
	}

	ids, err := parseIDs(input)
	if err != nil {
		return err
	}

	var text []byte
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		resp, err := client.Detokenize(cmd.Context(), &api.DetokenizeRequest{Tokens: ids})
		if err != nil {
			return err
		}

		text = resp.Bytes
		if text == nil {
			text = []byte(resp.Text)
		}
	} else {
		enc, err := loadEncoder(cmd)
		if err != nil {
			return err
		}

		text, err = enc.DecodeBytes(ids)
		if err != nil {
			return err
		}
	}

	_, err = cmd.OutOrStdout().Write(text)
	return err
}

func CountHandler(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	var n int
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		special, _ := cmd.Flags().GetBool("special")
		resp, err := client.Count(cmd.Context(), &api.TokenizeRequest{Text: text, Special: special})
		if err != nil {
			return err
		}

		n = resp.Count
	} else {
		enc, err := loadEncoder(cmd)
		if err != nil {
			return err
		}

		n, err = enc.Count(text)
		if err != nil {
			return err
		}
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d tokens, %s\n", n, format.HumanBytes(int64(len(text))))
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
	return err
}

func InspectHandler(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	enc, err := loadEncoder(cmd)
	if err != nil {
		return err
	}

	ids, err := enc.Encode(text)
	if err != nil {
		return err
	}

	var data [][]string
	for _, id := range ids {
		symbol, _ := enc.Vocabulary().Decode(id)
		b, _ := enc.Vocabulary().Bytes(id)
		data = append(data, []string{strconv.FormatUint(uint64(id), 10), symbol, strconv.Quote(string(b))})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ID", "SYMBOL", "BYTES"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetAutoFormatHeaders(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

func StatusHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	status, err := client.Status(cmd.Context())
	if err != nil {
		return err
	}

	v, err := client.Version(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "version:    %s\n", v)
	fmt.Fprintf(w, "vocabulary: %s\n", status.Vocabulary)
	fmt.Fprintf(w, "tokens:     %s\n", format.HumanNumber(uint64(status.Tokens)))
	fmt.Fprintf(w, "merges:     %s\n", format.HumanNumber(uint64(status.Merges)))
	if len(status.Special) > 0 {
		fmt.Fprintf(w, "special:    %s\n", strings.Join(status.Special, " "))
	}
	fmt.Fprintf(w, "cache:      %s entries, %s hits, %s misses\n",
		format.HumanNumber(uint64(status.Cache.Entries)),
		format.HumanNumber(status.Cache.Hits),
		format.HumanNumber(status.Cache.Misses))
	return nil
}

func RunServer(cmd *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	m, err := loadModel(cmd)
	if err != nil {
		ln.Close()
		return err
	}

	return server.Serve(ln, m)
}

func ConfigHandler(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	if example, _ := cmd.Flags().GetBool("example"); example {
		_, err := io.WriteString(w, envconfig.GenerateExampleConfig())
		return err
	}

	if path := envconfig.ConfigPath(); path != "" {
		fmt.Fprintf(w, "# config file: %s\n", path)
	}

	vars := envconfig.AsMap()
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		fmt.Fprintf(w, "%s=%v\n", k, vars[k].Value)
	}

	return nil
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "gptenc",
		Short:        "GPT-2 byte-level BPE tokenizer",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
	}

	rootCmd.PersistentFlags().String("vocab", "", "Vocabulary directory, tokenizer.json or .tiktoken file, or encoding name ("+strings.Join(vocab.Encodings(), ", ")+")")

	cobra.EnableCommandSorting = false

	encodeCmd := &cobra.Command{
		Use:     "encode [TEXT]",
		Short:   "Encode text to token ids",
		Long:    "Encode text to token ids. Reads stdin when no text is given.",
		PreRunE: checkServerHeartbeat,
		RunE:    EncodeHandler,
	}

	encodeCmd.Flags().Bool("special", false, "Encode special tokens such as <|endoftext|> to their ids")
	encodeCmd.Flags().Bool("json", false, "Print ids as a JSON array")
	encodeCmd.Flags().Bool("remote", false, "Encode with the running server")

	decodeCmd := &cobra.Command{
		Use:     "decode [ID...]",
		Short:   "Decode token ids to text",
		Long:    "Decode token ids to text. Reads ids separated by spaces or commas from stdin when none are given.",
		PreRunE: checkServerHeartbeat,
		RunE:    DecodeHandler,
	}

	decodeCmd.Flags().Bool("remote", false, "Decode with the running server")

	countCmd := &cobra.Command{
		Use:     "count [TEXT]",
		Short:   "Count the tokens in text",
		PreRunE: checkServerHeartbeat,
		RunE:    CountHandler,
	}

	countCmd.Flags().Bool("special", false, "Count special tokens as single tokens")
	countCmd.Flags().Bool("remote", false, "Count with the running server")
	countCmd.Flags().BoolP("verbose", "v", false, "Show the input size")

	inspectCmd := &cobra.Command{
		Use:   "inspect [TEXT]",
		Short: "Show the id, symbol and bytes of each token",
		RunE:  InspectHandler,
	}

	inspectCmd.Flags().Bool("special", false, "Encode special tokens to their ids")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the vocabulary and cache of the running server",
		Args:  cobra.NoArgs,
		RunE:  StatusHandler,
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the tokenizer server",
		Args:    cobra.NoArgs,
		RunE:    RunServer,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  ConfigHandler,
	}

	configCmd.Flags().Bool("example", false, "Print an example config file")

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["GPTENC_HOST"], envVars["GPTENC_DEBUG"]}

	for _, cmd := range []*cobra.Command{
		encodeCmd,
		decodeCmd,
		countCmd,
		inspectCmd,
		serveCmd,
		statusCmd,
	} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["GPTENC_DEBUG"],
				envVars["GPTENC_HOST"],
				envVars["GPTENC_ORIGINS"],
				envVars["GPTENC_VOCAB"],
				envVars["GPTENC_CACHE_SIZE"],
				envVars["GPTENC_NUM_PARALLEL"],
			})
		case inspectCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["GPTENC_VOCAB"], envVars["GPTENC_DEBUG"]})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		encodeCmd,
		decodeCmd,
		countCmd,
		inspectCmd,
		serveCmd,
		statusCmd,
		configCmd,
	)

	return rootCmd
}
