// Package natsclient is the control-plane NATS connection used to provision
// JetStream resources and to reach the object store and KV buckets.
//
// Task deliveries never pass through this client. They arrive on the
// worker's own protocol connection (see the transport and natsproto
// packages). This client only makes sure the queues exist:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("limb-provisioner"),
//	    natsclient.WithLogger(logger),
//	)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	topo := natsclient.DefaultTopology("Ping", "GetAppInfo", "ProcessImage")
//	if err := client.Provision(ctx, topo, retry.Quick()); err != nil {
//	    return err
//	}
//
// # Topology
//
// All request subjects live under one work-queue stream (LIMB, subjects
// limb.>). Each channel has a durable push consumer with explicit acks whose
// MaxAckPending is the prefetch count. Deliveries go to
// _limb.deliver.<channel> within the limb-workers queue group, and the reply
// subject of each delivery is its JetStream ack subject.
//
// # Circuit Breaker
//
// Repeated failures open a circuit that fails fast with ErrCircuitOpen and
// backs off exponentially up to one minute. A successful operation resets it.
//
// # Testing
//
// Integration tests build with the integration tag and start a NATS server
// in a container through NewTestClient.
package natsclient
