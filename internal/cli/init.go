package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	files := []struct {
		name string
		data string
		perm os.FileMode
	}{
		{config.DefaultConfigFile, exampleConfig, 0o644},
		{config.DefaultSubscribersFile, exampleSubscribers, 0o644},
		{config.DefaultEnvFile, exampleEnv, 0o600},
	}

	created := 0
	for _, f := range files {
		wrote, err := writeIfNotExists(filepath.Join(configDir, f.name), []byte(f.data), f.perm)
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# offerwatch configuration

site:
  search:
    url: https://www.saga.hamburg/immobiliensuche
    method: GET
    format: html            # html or feed
  detail_path: /objekt/
  categories:
    apartment: [wohnung]
    office: [gewerbe, buero]
    parking: [stellplatz, stellplaetze, garage]
  extract:
    rent_labels: [Gesamtmiete, Warmmiete]
    room_labels: [Zimmer]

fetch:
  timeout: 20s
  retries: 3

poll:
  interval: 5m

ledger:
  backend: sqlite           # sqlite, redis, postgres, memory
  path: .offerwatch/offerwatch.db
  # redis_url_env: OFFERWATCH_REDIS_URL
  # postgres_url_env: OFFERWATCH_DATABASE_URL

notify:
  channel: telegram         # telegram or stdout
  telegram:
    bot_token_env: TELEGRAM_BOT_TOKEN
  max_attempts: 3

status:
  listen: ""                # e.g. 127.0.0.1:8089
`

const exampleSubscribers = `# offerwatch subscribers
# The file is re-read before every cycle.

subscribers:
  - id: "123456789"         # Telegram chat id
    debug: false
    criteria:
      category: apartment   # apartment, office, parking
      rent_until: 600
      min_rooms: 2
      postal_codes: []      # empty allows every postal code
`

const exampleEnv = `# Secrets for offerwatch. Variables already set in the environment win.
TELEGRAM_BOT_TOKEN=
`
