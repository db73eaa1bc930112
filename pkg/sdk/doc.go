/*
Package sdk is the client library sensors use to report readings to an
hvacdash server.

# Quick Start

	client, err := sdk.New(sdk.ClientConfig{
	    Endpoint:   "http://hvacdash.local:8080",
	    FlushEvery: 10 * time.Second,
	})
	if err != nil {
	    log.Fatal(err)
	}

	client.Start(context.Background())
	defer client.Stop()

	client.Temperature("attic", 31.2)
	client.Status("kitchen-erv", map[string]string{"Drive": "ON", "FanSpeed": "LOW"})

Readings are stamped when recorded and shipped in batches, either when
MaxBatchSize readings are queued or every FlushEvery. Stop flushes whatever
is left.

# Transports

By default readings are POSTed to /api/v1/readings. Sensors on a network
with an MQTT broker can publish instead:

	mq, disconnect, err := transport.DialMQTT("tcp://broker:1883", "attic-sensor", "hvacdash")
	if err != nil {
	    log.Fatal(err)
	}
	defer disconnect()

	client, _ := sdk.New(sdk.ClientConfig{Transport: mq})

Each reading becomes one message on <prefix>/<device>/state, which the
server's MQTT source subscribes to.

# Delivery

Background sends that fail are dropped. Set OnError to count or log them:

	sdk.ClientConfig{
	    OnError: func(err error, dropped int) {
	        log.Printf("lost %d readings: %v", dropped, err)
	    },
	}

Recording never blocks on the network.
*/
package sdk
