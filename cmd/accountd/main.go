package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/gophnotes/internal/accountd"
	"github.com/dmitrijs2005/gophnotes/internal/accountd/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := accountd.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
