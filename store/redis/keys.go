package redis

// keyspace is the prefix every key lives under.
type keyspace string

const defaultPrefix keyspace = "granter:"

// job returns the Hash key of a job: granter:job:{id}
func (k keyspace) job(id string) string { return string(k) + "job:" + id }

// queue returns the Sorted Set of claimable jobs: granter:queue:{name}
func (k keyspace) queue(name string) string { return string(k) + "queue:" + name }

// scheduled returns the Set of pending scheduled job ids for a job name:
// granter:scheduled:{name}
func (k keyspace) scheduled(name string) string { return string(k) + "scheduled:" + name }

// jobIDs is the Set tracking all job ids for enumeration.
func (k keyspace) jobIDs() string { return string(k) + "job_ids" }

// dlq returns the Hash key of a DLQ entry: granter:dlq:{id}
func (k keyspace) dlq(id string) string { return string(k) + "dlq:" + id }

// dlqIDs is the Set tracking all DLQ entry ids.
func (k keyspace) dlqIDs() string { return string(k) + "dlq_ids" }

// lock returns the String key holding a lease owner: granter:lock:{name}
func (k keyspace) lock(name string) string { return string(k) + "lock:" + name }
