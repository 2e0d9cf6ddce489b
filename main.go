package main

import (
	"fmt"
	"log"
	"os"

	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/internal/database"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/server"
)

func usage() {
	fmt.Println("Usage: domainstack <command>")
	fmt.Println("Commands:")
	fmt.Println("  migrate   Run database migrations")
	fmt.Println("  server    Start the API server, cron scheduler and job consumer")
	fmt.Println("  worker    Start only the job consumer")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}
	if cfg == nil {
		log.Fatalf("config is empty")
	}

	// Setup the database
	db, err := database.NewConnection(cfg.DatabaseConfig)
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}

	switch os.Args[1] {
	case "migrate":

		err := repository.MigrateDB(cfg.DatabaseConfig, db)
		if err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		log.Println("Database migration completed successfully")

	case "server":

		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("DomainStack starting up...")

		srv, err := server.NewServer(cfg, db)
		if err != nil {
			log.Fatalf("Server setup failed: %v", err)
		}

		err = srv.Run()
		if err != nil {
			log.Fatalf("Server startup failed: %v", err)
		}

		log.Println("Shutdown complete")

	case "worker":

		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("DomainStack worker starting up...")

		srv, err := server.NewServer(cfg, db)
		if err != nil {
			log.Fatalf("Worker setup failed: %v", err)
		}

		err = srv.RunWorker()
		if err != nil {
			log.Fatalf("Worker startup failed: %v", err)
		}

		log.Println("Shutdown complete")

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}
