package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/artifact"
	"go.viam.com/stereocal/rimage/transform"
)

// InspectAction is the corresponding Action for 'inspect'.
func InspectAction(c *cli.Context) error {
	cc, err := newCalClient(c)
	if err != nil {
		return err
	}
	return cc.inspectAction(c.Bool(verifyFlag))
}

func (cc *calClient) inspectAction(verify bool) error {
	store, err := cc.store()
	if err != nil {
		return err
	}
	w := cc.c.App.Writer
	entries := store.Entries()
	if len(entries) == 0 {
		printf(w, "No artifacts in %s", store.Dir())
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(store.Dir())
	t.AppendHeader(table.Row{"File", "Kind", "Roles", "Resolution", "RMS (px)", "Inliers", "Views", "Created"})
	for _, e := range entries {
		inliers := ""
		if e.Kind == artifact.KindHomography {
			inliers = fmt.Sprintf("%d/%d", e.Inliers, e.Points)
		}
		t.AppendRow(table.Row{
			e.File, e.Kind, strings.Join(e.Roles, " -> "),
			fmt.Sprintf("%dx%d", e.Width, e.Height),
			fmt.Sprintf("%.4f", e.RMS), inliers, e.Views,
			e.Created.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()

	for _, e := range entries {
		if e.Kind != artifact.KindHomography || len(e.Roles) != 2 {
			continue
		}
		h, err := store.LoadHomography(e.Roles[0], e.Roles[1])
		if err != nil {
			warningf(w, "could not load %s: %v", e.File, err)
			continue
		}
		printf(w, "\n%s\n%s", e.File, h)
		target := e.TargetResolution()
		if target.X == 0 || target.Y == 0 {
			target = e.Resolution()
		}
		analysis := transform.AnalyzeCorners(h, e.Resolution(), target)
		analysis.Render(w)
		if !analysis.PreservesOrientation {
			warningf(w, "%s mirrors the image; the pairs were probably swapped", e.File)
		}
		if !analysis.InsideTarget {
			warningf(w, "%s moves the image centre outside the target frame", e.File)
		}
	}

	if verify {
		if err := store.Verify(); err != nil {
			return err
		}
		printf(w, "All %d artifacts match the manifest", len(entries))
	}
	return nil
}
