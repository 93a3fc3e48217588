// Команда devtoken выпускает токен принципала для локальной разработки:
//
//	go run ./services/devtoken -user u1 -university <id> -name Ann
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/studyhub/internal/config"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/middleware"
	"github.com/studyhub/internal/model"
)

func main() {
	logger.SetPrefix("devtoken")
	user := flag.String("user", "", "user id (sub)")
	university := flag.String("university", "", "university id")
	name := flag.String("name", "", "display name")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <id> [-university <id>] [-name <name>] [-ttl 24h]")
		os.Exit(2)
	}
	cfg := config.Load()
	tok, err := middleware.SignPrincipal([]byte(cfg.JWTSecret), model.Principal{
		UserID:       *user,
		UniversityID: *university,
		Name:         *name,
	}, *ttl)
	if err != nil {
		logger.Errorf("sign: %v", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
