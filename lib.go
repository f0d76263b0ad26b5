package main

import (
	"context"
	"net/url"

	"github.com/joho/godotenv"
	echo4 "github.com/labstack/echo/v4"
	echo4middleware "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/kadowaki/pasuki-webauthn/app"
)

func main() {
	run()
}

func run() {
	echo := echo4.New()
	echo.Use(echo4middleware.Logger())
	echo.Logger.SetLevel(log.INFO)

	if err := godotenv.Load(); err != nil {
		echo.Logger.Fatal(err)
	}

	theApp, err := app.NewApp()
	if err != nil {
		echo.Logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := theApp.RunMetadataService(ctx); err != nil {
			echo.Logger.Warn(err)
		}
	}()

	uiUrl, err := url.Parse("http://localhost:3000")
	if err != nil {
		echo.Logger.Fatal(err)
	}

	balancer := echo4middleware.NewRoundRobinBalancer(
		[]*echo4middleware.ProxyTarget{{
			Name: "ui",
			URL:  uiUrl,
		}})
	echo.Use(echo4middleware.Proxy(balancer))

	echo.POST("/api/passkey/register/start", theApp.RegisterStart)
	echo.POST("/api/passkey/register/finish", theApp.RegisterFinish)
	echo.POST("/api/passkey/verify/start", theApp.VerifyStart)
	echo.POST("/api/passkey/verify/finish", theApp.VerifyFinish)

	if err := echo.Start("localhost:8082"); err != nil {
		echo.Logger.Fatal(err)
	}
}
