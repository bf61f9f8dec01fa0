package notify

import "strconv"

// Flatten turns a decoded JSON object into a single-level map keyed by dotted
// paths, so `{"comment":{"author":{"name":"ci"}}}` yields "comment.author.name".
// Arrays are kept whole under their own path, and each element is also
// flattened under "path[i]". The result is the parameter set for ignore-rule
// expressions.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenInto(out, path+"."+key, child)
		}
	case []interface{}:
		out[path] = typed
		for i, child := range typed {
			flattenInto(out, path+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		out[path] = value
	}
}
