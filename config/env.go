package config

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
)

var envOnce sync.Once

// loadEnvFile loads the .env next to the module root once. Variables that
// are already set win over the file.
func loadEnvFile() {
	envOnce.Do(func() {
		_, filename, _, _ := runtime.Caller(0)
		rootDir := filepath.Dir(filepath.Dir(filename))

		paths := []string{".env"}
		if envPath := filepath.Join(rootDir, ".env"); envPath != paths[0] {
			paths = append(paths, envPath)
		}
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := godotenv.Load(p); err != nil {
				log.Printf("Warning: failed to load %s: %v", p, err)
			}
			return
		}
	})
}
