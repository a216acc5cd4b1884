package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/ubikemap/internal/api"
	"github.com/lox/ubikemap/internal/center"
	"github.com/lox/ubikemap/internal/directory"
	"github.com/lox/ubikemap/internal/feed"
	"github.com/lox/ubikemap/internal/mapprovider"
	"github.com/lox/ubikemap/internal/refresh"
	"github.com/lox/ubikemap/internal/store"
)

type Globals struct {
	DB      string `help:"Path to SQLite database." default:"data/ubikemap.db" env:"UBIKEMAP_DB"`
	FeedURL string `help:"YouBike station feed URL." default:"${feed_url}" env:"UBIKEMAP_FEED_URL"`
}

type CLI struct {
	Globals

	Serve     ServeCmd     `cmd:"" default:"withargs" help:"Serve the station API and poll the feed."`
	Refresh   RefreshCmd   `cmd:"" help:"Fetch the station feed once and store a snapshot."`
	Favorites FavoritesCmd `cmd:"" help:"Export or import favorite stations."`
}

type ServeCmd struct {
	Listen        string        `help:"HTTP listen address." default:":8080" env:"UBIKEMAP_LISTEN"`
	PollInterval  time.Duration `help:"Feed polling interval." default:"60s" env:"UBIKEMAP_POLL_INTERVAL"`
	NoPoll        bool          `help:"Disable polling (serve the stored snapshot only)."`
	GoogleMapsKey string        `help:"Google Maps API key for the commercial map provider." env:"GOOGLE_MAPS_API_KEY"`
	GoogleBaseURL string        `help:"Google Maps API base URL." default:"${google_base_url}" hidden:""`
	Provider      string        `help:"Map provider: auto, commercial or open." default:"auto" enum:"auto,commercial,open" env:"UBIKEMAP_MAP_PROVIDER"`
	TileURL       string        `help:"Tile URL template for the open map provider." default:"${tile_url}" env:"UBIKEMAP_TILE_URL"`
	IPLocateURL   string        `help:"IP geolocation endpoint used when no device fix is posted; empty disables it." default:"${ip_locate_url}" env:"UBIKEMAP_IP_LOCATE_URL"`
	CORSOrigins   []string      `name:"cors-origins" help:"Allowed CORS origins." default:"*" sep:"," env:"UBIKEMAP_CORS_ORIGINS"`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, err := store.Open(g.DB)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Println("database migrated")

	dir := directory.New(feed.NewClient(g.FeedURL))
	warmStart(dir, st)

	ctrl := center.NewController(dir)
	dir.SetCenter(ctrl)
	dir.SetRecorder(st)

	if v, err := st.ViewMode(); err != nil {
		log.Printf("load view mode: %v", err)
	} else if err := ctrl.SetView(v); err != nil {
		log.Printf("restore view mode: %v", err)
	}

	var locator mapprovider.Locator
	if c.IPLocateURL != "" {
		locator = mapprovider.NewIPLocator(c.IPLocateURL)
	}
	geolocator := mapprovider.NewGeolocator(locator)
	pref, err := mapprovider.ParsePreference(c.Provider)
	if err != nil {
		return err
	}
	maps := mapprovider.NewSelector(pref,
		mapprovider.NewCommercial(c.GoogleMapsKey, c.GoogleBaseURL, geolocator),
		mapprovider.NewOpen(c.TileURL, "", geolocator))

	coord := refresh.NewCoordinator(c.PollInterval, dir.Refresh)
	server := api.NewServer(api.Deps{
		Directory: dir,
		Center:    ctrl,
		Refresh:   coord,
		Store:     st,
		Maps:      maps,
	}, c.Listen, c.CORSOrigins)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoPoll {
		go coord.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	return server.Run(ctx)
}

// warmStart loads the last stored payload so the API has stations before the
// first refresh lands.
func warmStart(dir *directory.Directory, st *store.Store) {
	raw, fetchedAt, ok, err := st.LatestSnapshot()
	if err != nil {
		log.Printf("warm start: %v", err)
		return
	}
	if !ok {
		return
	}
	stations, err := feed.Decode(raw)
	if err != nil {
		log.Printf("warm start: decode snapshot: %v", err)
		return
	}
	dir.Load(stations, fetchedAt)
	log.Printf("warm start: loaded %d stations from %s", len(stations), fetchedAt.Format(time.RFC3339))
}

type RefreshCmd struct {
	Timeout time.Duration `help:"Give up after this long." default:"2m"`
}

func (c *RefreshCmd) Run(g *Globals) error {
	st, err := store.Open(g.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	dir := directory.New(feed.NewClient(g.FeedURL))
	dir.SetRecorder(st)

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	log.Println("running single refresh")
	if err := dir.Refresh(ctx); err != nil {
		return err
	}
	stats := dir.Stats()
	log.Printf("done: %d stations, %d active, %d bikes, %d open docks",
		stats.TotalStations, stats.ActiveStations, stats.TotalBikes, stats.TotalSlots)
	return nil
}

type FavoritesCmd struct {
	Export FavoritesExportCmd `cmd:"" help:"Write favorites as JSON."`
	Import FavoritesImportCmd `cmd:"" help:"Merge favorites from a JSON export."`
}

type FavoritesExportCmd struct {
	Output string `short:"o" help:"Output file (default stdout)."`
}

func (c *FavoritesExportCmd) Run(g *Globals) error {
	st, err := store.Open(g.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	export, err := st.ExportFavorites(time.Now())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("encode favorites: %w", err)
	}
	data = append(data, '\n')
	if c.Output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(c.Output, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", c.Output, err)
	}
	log.Printf("exported %d favorites to %s", len(export.Favorites), c.Output)
	return nil
}

type FavoritesImportCmd struct {
	File string `arg:"" type:"existingfile" help:"Favorites export to merge."`
}

func (c *FavoritesImportCmd) Run(g *Globals) error {
	st, err := store.Open(g.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.File, err)
	}
	imported, added, err := st.ImportFavorites(data)
	if err != nil {
		return err
	}
	n, err := st.FavoriteCount()
	if err != nil {
		return err
	}
	log.Printf("imported %d favorites (%d new), %d total", imported, added, n)
	return nil
}

func main() {
	// .env first, then .env.local overrides for local development
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("ubikemap"),
		kong.Description("YouBike station directory with map providers."),
		kong.UsageOnError(),
		kong.Vars{
			"feed_url":        feed.DefaultURL,
			"google_base_url": mapprovider.DefaultGoogleBaseURL,
			"tile_url":        mapprovider.DefaultTileURL,
			"ip_locate_url":   mapprovider.DefaultIPLocateURL,
		},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
