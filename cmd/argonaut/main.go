package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/cloudflare"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/controller"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/health"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/ingress"
	"github.com/cloudflare/cloudflare-tunnel-provisioner/internal/tunnel"
)

var version = "UNKNOWN"

func main() {
	name := filepath.Base(os.Args[0])
	app := kingpin.New(name, "Cloudflare tunnel provisioner.")
	verbose := app.Flag("v", "enable logging at specified level").Default("4").Int()

	// variant (print version information)
	variant := app.Command("version", "print version")

	// provision (tunnels, dns records and ingress for the declared routes)
	provision := app.Command("provision", "Provision tunnels and routes, then gate the connector")
	tunnels := provision.Flag("tunnel", "tunnel name (repeatable)").Required().Strings()
	routes := RouteMixin(provision.Flag("route", "route '[<tunnel>/]<hostname>=<target-url>' (repeatable)"))
	accountID := provision.Flag("account-id", "cloudflare account id").Envar("CLOUDFLARE_ACCOUNT_ID").String()
	apiToken := provision.Flag("api-token", "cloudflare api token").Envar("CLOUDFLARE_API_TOKEN").String()
	connectorToken := provision.Flag("connector-token", "pre-obtained connector token, disables api provisioning").Envar("TUNNEL_TOKEN").String()
	anchorDomain := provision.Flag("anchor-domain", "domain suffix of the tunnel's canonical address").Default(ingress.AnchorDomainDefault).String()
	proxied := provision.Flag("proxied", "proxy dns records through the edge").Default("true").Bool()
	healthAddr := provision.Flag("health-addr", "health/metrics listen address").Default(":8081").String()

	args := os.Args[1:]
	switch kingpin.MustParse(app.Parse(args)) {
	// variant (print version information)
	case variant.FullCommand():
		fmt.Printf("%s %s %s/%s\n", name, version, runtime.GOOS, runtime.GOARCH)

	// provision (tunnels, dns records and ingress for the declared routes)
	case provision.FullCommand():
		log := logrus.StandardLogger()
		log.SetLevel(logruslevel(*verbose))
		log.Out = os.Stderr

		declared, err := routes.Routes(*tunnels)
		if err != nil {
			log.Fatalf("failed to resolve routes: %v", err)
			os.Exit(1)
		}

		opts := []controller.Option{
			controller.AnchorDomain(*anchorDomain),
			controller.Proxied(*proxied),
		}

		var api cloudflare.API
		if *connectorToken != "" {
			opts = append(opts, controller.ExternalToken(controller.StaticSecret(*connectorToken), "connector-token"))
		} else {
			if *apiToken == "" {
				log.Fatalf("--api-token (or CLOUDFLARE_API_TOKEN) is required without --connector-token")
				os.Exit(1)
			}
			if *accountID == "" {
				log.Fatalf("--account-id (or CLOUDFLARE_ACCOUNT_ID) is required without --connector-token")
				os.Exit(1)
			}
			api = cloudflare.NewClient(*accountID, *apiToken, log)
		}

		ctrl, err := controller.New(api, log, *tunnels, declared, opts...)
		if err != nil {
			log.Fatalf("failed to create controller: %v", err)
			os.Exit(1)
		}

		controller.EnableMetrics(prometheus.DefaultRegisterer)
		healthSrv := health.NewServer(*healthAddr, log)

		var g run.Group
		{
			ctx, cancel := context.WithCancel(context.Background())
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

			g.Add(func() error {
				select {
				case s := <-sig:
					log.Infof("received signal=%s, exiting gracefully...\n", s.String())
					cancel()
				case <-ctx.Done():
				}
				return ctx.Err()
			}, func(_ error) {
				cancel()
			})
		}
		{
			ctx, cancel := context.WithCancel(context.Background())
			g.Add(func() error {
				return healthSrv.Run(ctx)
			}, func(error) {
				cancel()
			})
		}
		{
			ctx, cancel := context.WithCancel(context.Background())
			g.Add(func() error {
				res, runErr := ctrl.Run(ctx)
				if err := tunnelFailures(res, *tunnels); err != nil {
					return err
				}
				// route failures leave the ingress table stale but do
				// not hold the connector back
				if runErr != nil {
					log.Warnf("route configuration incomplete: %v", runErr)
				}
				for _, name := range *tunnels {
					if err := ctrl.Gate(name).Wait(ctx); err != nil {
						return err
					}
					log.WithFields(logrus.Fields{
						"tunnel": name,
					}).Infof("provisioning finished, connector start unblocked")
				}
				ctrl.Tunnels().Range(func(name string, t *tunnel.Tunnel) bool {
					log.WithFields(logrus.Fields{
						"tunnel": name,
						"id":     t.ID,
						"status": t.Status,
					}).Debugf("tunnel ready")
					return true
				})
				log.Infof("%d tunnel(s) ready", ctrl.Tunnels().Len())
				healthSrv.SetReady()
				<-ctx.Done()
				return nil
			}, func(error) {
				cancel()
			})
		}

		if err := g.Run(); err != nil {
			log.Fatalf("received fatal error, err=%v\n", err)
			os.Exit(1)
		}
	}
}

// tunnelFailures folds the outcome of the tunnel entities only; a failed
// route batch on a provisioned tunnel is not fatal to the process, the
// connector depends solely on its tunnel's token.
func tunnelFailures(res *controller.Result, tunnels []string) error {
	var msgs []string
	for _, name := range tunnels {
		if err := res.EntityErr(name); err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("tunnel provisioning failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// bridge verbose flag into a logrus.Level
func logruslevel(v int) (l logrus.Level) {
	if v >= 0 && v <= 5 {
		l = logrus.AllLevels[v]
	} else if v > 5 {
		l = logrus.DebugLevel
	} else {
		l = logrus.PanicLevel
	}
	return
}
