package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/drewmca/personalized-feedgen/internal/bluesky"
)

var publishOpts struct {
	handle      string
	password    string
	pds         string
	serviceDID  string
	rkey        string
	displayName string
	description string
	unpublish   bool
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish (or remove) a feed generator record",
	RunE:  runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishOpts.handle, "handle", os.Getenv("BLUESKY_HANDLE"), "BlueSky handle (e.g. user.bsky.social)")
	f.StringVar(&publishOpts.password, "password", os.Getenv("BLUESKY_APP_PASSWORD"), "BlueSky app password")
	f.StringVar(&publishOpts.pds, "pds", "", "PDS service URL")
	f.StringVar(&publishOpts.serviceDID, "service-did", os.Getenv("FEEDGEN_SERVICE_DID"), "feed generator service DID (e.g. did:web:feed.example.com)")
	f.StringVar(&publishOpts.rkey, "rkey", "", "record key / short name for the feed (e.g. predicted-likes)")
	f.StringVar(&publishOpts.displayName, "name", "", "feed display name")
	f.StringVar(&publishOpts.description, "description", "", "feed description")
	f.BoolVar(&publishOpts.unpublish, "unpublish", false, "delete the feed generator record instead of publishing")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	o := publishOpts
	if o.handle == "" || o.password == "" {
		return fmt.Errorf("--handle and --password are required (or set BLUESKY_HANDLE and BLUESKY_APP_PASSWORD)")
	}
	if o.rkey == "" {
		return fmt.Errorf("--rkey is required")
	}

	ctx := context.Background()
	client := bluesky.NewClient(o.pds)

	fmt.Printf("Logging in as %s...\n", o.handle)
	if err := client.Login(ctx, o.handle, o.password); err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s\n", client.DID())

	feedURI := fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", client.DID(), o.rkey)

	if o.unpublish {
		if err := client.UnpublishFeed(ctx, o.rkey); err != nil {
			return err
		}
		fmt.Printf("Feed unpublished: %s\n", feedURI)
		return nil
	}

	if o.serviceDID == "" {
		return fmt.Errorf("--service-did is required for publishing (or set FEEDGEN_SERVICE_DID)")
	}
	if o.displayName == "" {
		return fmt.Errorf("--name is required for publishing")
	}

	record := bluesky.FeedGeneratorRecord{
		DID:         o.serviceDID,
		DisplayName: o.displayName,
		Description: o.description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := client.PublishFeed(ctx, o.rkey, record); err != nil {
		return err
	}
	fmt.Printf("Feed published: %s\n", feedURI)
	return nil
}
