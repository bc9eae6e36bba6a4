package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"email-genie/mailapi"
)

func main() {
	runAPI := flag.Bool("api", false, "run the email API service")
	runTG := flag.Bool("bot", false, "run the Telegram bot")
	apiListen := flag.String("api-listen", ":8000", "listen address for the API service")
	telegramCfgPath := flag.String("telegram-config", "telegram.json", "path to telegram config file")
	envPath := flag.String("env", ".env", "path to env file with credentials")
	flag.Parse()

	if !*runAPI && !*runTG {
		fmt.Fprintf(os.Stderr, "Usage: %s [-api] [-bot] [-api-listen addr] [-telegram-config path] [-env path]\n", os.Args[0])
		os.Exit(1)
	}

	// Credentials come from the environment; a .env file is a convenience,
	// not a requirement.
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("env file error: %v", err)
	}

	errCh := make(chan error, 2)

	if *runAPI {
		cfg := mailapi.Config{
			Azure: mailapi.AzureConfig{
				Key:        os.Getenv("AZURE_OPENAI_KEY"),
				Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
				Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
				APIVersion: os.Getenv("AZURE_API_VERSION"),
			},
			SMTP: mailapi.SMTPConfig{
				Host: os.Getenv("SMTP_HOST"),
				Port: envInt("SMTP_PORT"),
				User: os.Getenv("GMAIL_USER"),
				Pass: os.Getenv("GMAIL_PASS"),
			},
		}
		srv := mailapi.NewServer(cfg)
		go func() {
			log.Printf("API listening on %s", *apiListen)
			errCh <- http.ListenAndServe(*apiListen, srv.Routes())
		}()
	}

	if *runTG {
		tgCfg, err := loadTelegramConfig(*telegramCfgPath)
		if err != nil {
			log.Fatalf("telegram config error: %v", err)
		}

		apiBase := os.Getenv("API_BASE")
		if apiBase == "" {
			if !*runAPI {
				log.Fatal("API_BASE is not set and -api is not enabled")
			}
			apiBase = "http://127.0.0.1" + *apiListen
		}

		go func() {
			errCh <- runBot(tgCfg, apiBase)
		}()
	}

	if err := <-errCh; err != nil {
		log.Fatal(err)
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %q", key, v)
	}
	return n
}
