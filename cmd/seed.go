package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed [domain...]",
		Short: "Queue seed domains at depth 0",
		Long: `Queues http://<domain> for each argument (and each line of --file) at
depth 0. Domains already in the queue are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			domains := append([]string(nil), args...)
			if file != "" {
				fromFile, err := readDomainFile(file)
				if err != nil {
					return err
				}
				domains = append(domains, fromFile...)
			}
			if len(domains) == 0 {
				return fmt.Errorf("no domains given")
			}
			res, err := a.Seed(cmd.Context(), domains)
			if err != nil {
				return err
			}
			for _, d := range res.Invalid {
				a.Logger.Warn("skipping invalid domain", zap.String("domain", d))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d, already queued %d, invalid %d\n",
				len(res.Inserted), len(res.Existing), len(res.Invalid))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one domain per line (# starts a comment)")
	return cmd
}

func readDomainFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open domain file: %w", err)
	}
	defer f.Close()
	return parseDomainList(f)
}

func parseDomainList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read domain file: %w", err)
	}
	return out, nil
}
