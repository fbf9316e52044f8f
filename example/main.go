package main

import (
	"context"
	"fmt"
	"log"

	"github.com/meikuraledutech/flowvc"
	"github.com/meikuraledutech/flowvc/catalog"
	"github.com/meikuraledutech/flowvc/memstore"
)

// localEngine stands in for the remote execution engine: it keeps live
// documents in a map so the demo runs without network access.
type localEngine struct {
	docs map[string]*flowvc.Document
}

func (e *localEngine) GetDocument(_ context.Context, id string) (*flowvc.Document, error) {
	d, ok := e.docs[id]
	if !ok {
		return nil, flowvc.ErrDocumentNotFound
	}
	return d.Clone(), nil
}

func (e *localEngine) UpdateDocument(_ context.Context, id string, doc *flowvc.Document) (*flowvc.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	e.docs[id] = doc.Clone()
	return doc.Clone(), nil
}

func main() {
	ctx := context.Background()

	eng := &localEngine{docs: map[string]*flowvc.Document{
		"wf-1": {
			ID:     "wf-1",
			Name:   "Order intake",
			Active: true,
			Tags:   []string{"orders"},
			Nodes: []flowvc.Node{
				{ID: "trigger", Name: "On order", Type: "webhook", Position: flowvc.Position{X: 0, Y: 0}},
				{ID: "fetch", Name: "Fetch customer", Type: "http", Position: flowvc.Position{X: 200, Y: 0},
					Parameters: flowvc.ParamMap{"url": "https://api.example.com/customers"}},
			},
			Connections: flowvc.Connections{
				"trigger:0": {{TargetNodeID: "fetch", TargetInput: 0, Type: "main"}},
			},
		},
	}}

	svc := flowvc.NewService(memstore.New(), eng, catalog.Builtin())

	// 1. Main branch snapshots the live document.
	main, err := svc.CreateBranch(ctx, "wf-1", "main", "", "demo")
	if err != nil {
		log.Fatalf("create main: %v", err)
	}
	fmt.Printf("main branch %s (default=%v)\n", main.ID, main.IsDefault)

	// 2. A feature branch forks from main's tip.
	feature, err := svc.CreateBranch(ctx, "wf-1", "add-retries", "", "demo")
	if err != nil {
		log.Fatalf("create feature: %v", err)
	}

	// 3. The live document evolves: the editor changes the fetch node and
	// retags the workflow. Commit it to the feature branch.
	doc := eng.docs["wf-1"]
	doc.Tags = []string{"orders", "retries"}
	doc.NodeByID("fetch").Parameters["retries"] = float64(3)
	if _, err := svc.CreateSnapshot(ctx, feature.ID, "add retry budget", "demo"); err != nil {
		log.Fatalf("snapshot: %v", err)
	}

	// 4. Meanwhile main diverges: same node, different retry budget.
	doc.NodeByID("fetch").Parameters["retries"] = float64(5)
	doc.Tags = []string{"orders", "critical"}
	if _, err := svc.CreateSnapshot(ctx, main.ID, "raise retry budget", "demo"); err != nil {
		log.Fatalf("snapshot main: %v", err)
	}

	// 5. Preview the merge of the feature branch into main.
	preview, err := svc.PreviewMerge(ctx, feature.ID, main.ID)
	if err != nil {
		log.Fatalf("preview: %v", err)
	}
	fmt.Printf("preview: %d conflict(s), auto=%v, risk=%s\n",
		len(preview.Conflicts), preview.CanAutoMerge, preview.RiskLevel)
	for _, c := range preview.Conflicts {
		fmt.Printf("  %-18s severity=%-8s suggest=%s\n", c.ID, c.Severity, c.SuggestedResolution)
	}

	// 6. Resolve the node conflict in main's favor and merge.
	outcome, err := svc.ResolveConflicts(ctx, feature.ID, main.ID,
		map[string]flowvc.Resolution{"node:fetch": flowvc.KeepTarget}, "demo")
	if err != nil {
		log.Fatalf("merge: %v", err)
	}
	fmt.Printf("merge: success=%v %s\n", outcome.Success, outcome.Message)
	fmt.Printf("merged tags: %v\n", eng.docs["wf-1"].Tags)

	// 7. History, most recent first.
	history, err := svc.VersionHistory(ctx, "wf-1", 10)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	for _, v := range history {
		fmt.Printf("v%d [%s] %s — %s\n", v.VersionNumber, v.ChangeType, v.Name, v.ChangeSummary)
	}
}
