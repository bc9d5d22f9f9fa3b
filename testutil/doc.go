// Package testutil provides shared helpers for riskmesh tests: bounded
// test contexts, a mesh constructor safe to call repeatedly in one
// process, scripted stage handlers with call recording, and awaiters for
// task and agent state.
//
// Subpackage testutil/fixtures holds prebuilt cards, pipelines and
// request payloads.
//
// Usage:
//
//	ctx := testutil.Context(t)
//	m := testutil.NewMesh(t, nil)
//	w := m.NewWorker("analyst").Handle(a2a.CapabilityAnalyzeRisk,
//		testutil.StaticHandler(map[string]any{"score": 0.4}))
package testutil
