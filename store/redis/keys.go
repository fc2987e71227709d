package redis

// Redis key naming conventions for geoapi job data.
// All keys are prefixed with "geoapi:" to avoid collisions.

const keyPrefix = "geoapi:"

// jobKeyPrefix is the hash key prefix for job entities: geoapi:job:{id}
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job entity.
func jobKey(id string) string { return jobKeyPrefix + id }

// acceptedKey is the Sorted Set of accepted job IDs scored by creation
// time, so claiming pops the oldest first.
const acceptedKey = keyPrefix + "accepted"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
