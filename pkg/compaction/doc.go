/*
Package compaction coarsens old telemetry into fixed-width, duration-weighted buckets.

# Why Coarsen?

Ingestion already run-length encodes unchanged readings, but a thermostat that
flips between two values every poll still produces one row per minute. Nobody
needs minute detail from last month:

	Age          Resolution   Rows/device/day
	< 1 week     raw          up to 1440
	1-2 weeks    5m           288
	2-3 months   20m          72

# How a Bucket is Rewritten

Compact walks a window looking for any entry shorter than the bucket width.
The bucket holding it is rewritten in a single transaction:

	bucket [100, 150), width 50
	  dev1: (100, 13, 20.0)
	  dev2: (100, 1, 20.0) (111, 1, 21.0) (112, 1, 22.0)
	becomes
	  dev1: (100, 50, 20.0)
	  dev2: (100, 50, 21.0)

Temperatures are averaged weighted by each input's own duration (dev2 saw three
seconds of data, so its average is over three seconds, not fifty). Status
snapshots are dropped. Devices with no entries in the bucket get nothing.

A rewritten bucket holds only full-width entries, so running Compact again finds
no work. Seeing the same bucket twice in one run means the rewrite did not take,
and Compact stops with storage.ErrNoProgress.

# Retention

DailyCleanup runs two independent windows:

  - week: [now-2w, now-1w) into 5 minute buckets
  - month: [prevMonth³(now), prevMonth²(now)) into 20 minute buckets

Each window is first probed for entries under 10 minutes so already coarsened
windows cost one indexed query. Month arithmetic is calendar based and clamps the
day (May 31 steps back to Apr 30).
*/
package compaction
