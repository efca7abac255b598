package commands

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/teranos/ixbulk/ix/progress"
	"github.com/teranos/ixbulk/logger"
)

func verbosity(cmd *cobra.Command) int {
	v, _ := cmd.Flags().GetCount("verbose")
	return v
}

func useJSON(cmd *cobra.Command) bool {
	j, _ := cmd.Flags().GetBool("json")
	return j
}

// newEmitter renders progress as JSON events with --json, for people otherwise.
// Every event is also logged.
func newEmitter(cmd *cobra.Command) progress.Emitter {
	logEmitter := progress.NewLogEmitter(logger.ComponentLogger("progress"))
	if useJSON(cmd) {
		return progress.Multi{progress.NewJSONEmitter(cmd.OutOrStdout()), logEmitter}
	}
	return progress.Multi{progress.NewCLIEmitter(verbosity(cmd)), logEmitter}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func sortedStatKeys(stats map[string]int64) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
