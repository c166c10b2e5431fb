// Package objectstore keeps media blobs in a NATS JetStream object store
// bucket.
//
// Objects are named by the image id the client supplied. Put replaces the
// current version of an object, Get returns the latest version, and a missing
// object is reported with storage's not-found kind so dispatch can answer
// with a Fail frame instead of retrying.
//
// # Usage
//
//	store, err := objectstore.NewStoreWithConfig(ctx, natsClient, objectstore.Config{
//		BucketName: "limb-media",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	data, err := store.Get(ctx, imageID)
//
// The bucket is created on first use when it does not exist. Bucket storage
// defaults to file storage with a single replica.
package objectstore
