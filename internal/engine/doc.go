// Package engine ties resolution and caching together behind one service
// object.
//
// An Engine resolves (track id, source) pairs into playable URIs, caches
// streams from backends whose URLs expire, prefetches upcoming tracks on a
// bounded queue, and reports progress through StatusEvent callbacks. All
// collaborators are injected at construction; there is no package-level
// state.
//
//	eng, err := engine.New(settings, logger, onStatus)
//	if err != nil {
//	    return err
//	}
//	defer eng.Shutdown(context.Background())
//
//	uri, err := eng.ResolveAudioURI(ctx, key, meta, nil)
package engine
