package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	oai "github.com/houillon/basic-oai-harvester"
)

var workers int

var infoCmd = &cobra.Command{
	Use:   "info [baseUrl...]",
	Short: "Show repository information as JSON",
	Long: `Prints identify information, sets and metadata formats of each repository, one
JSON document per line. Without arguments, base URLs are read from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var reader io.Reader = os.Stdin
		if len(args) > 0 {
			reader = strings.NewReader(strings.Join(args, "\n"))
		}
		client := cfg.Client()
		if workers < 1 {
			workers = 1
		}

		queue := make(chan string)
		out := make(chan string)
		done := make(chan bool)
		var wg sync.WaitGroup

		go func() {
			for s := range out {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			done <- true
		}()

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for endpoint := range queue {
					info, err := oai.RepositoryInfo(cmd.Context(), client, endpoint)
					if err != nil {
						log.Warnf("failed: %s: %v", endpoint, err)
						continue
					}
					b, err := json.Marshal(info)
					if err != nil {
						log.Errorf("%s: %v", endpoint, err)
						continue
					}
					out <- string(b)
					log.Debugf("done: %s", endpoint)
				}
			}()
		}

		var err error
		rdr := bufio.NewReader(reader)
		for {
			line, rerr := rdr.ReadString('\n')
			if endpoint := strings.TrimSpace(line); endpoint != "" {
				queue <- endpoint
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				err = rerr
				break
			}
		}

		close(queue)
		wg.Wait()
		close(out)
		<-done
		return err
	},
}

func init() {
	infoCmd.Flags().IntVarP(&workers, "workers", "w", 4, "repositories queried in parallel")
	rootCmd.AddCommand(infoCmd)
}
