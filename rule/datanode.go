package rule

import (
	"strings"

	"github.com/pkg/errors"
)

const dataNodeDelimiter = "."

// DataNode a physical table in a physical data source
type DataNode struct {
	DataSourceName string
	TableName      string
}

// NewDataNode parses the dotted form "ds_0.t_order_0".
func NewDataNode(text string) (DataNode, error) {
	segments := strings.Split(strings.TrimSpace(text), dataNodeDelimiter)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return DataNode{}, errors.Wrapf(ErrInvalidDataNode, "%q", text)
	}
	return DataNode{DataSourceName: segments[0], TableName: segments[1]}, nil
}

// Equal data source and table names compare case-insensitively
func (n DataNode) Equal(other DataNode) bool {
	return strings.EqualFold(n.DataSourceName, other.DataSourceName) && strings.EqualFold(n.TableName, other.TableName)
}

func (n DataNode) String() string {
	return n.DataSourceName + dataNodeDelimiter + n.TableName
}

func (n DataNode) lower() DataNode {
	return DataNode{DataSourceName: strings.ToLower(n.DataSourceName), TableName: strings.ToLower(n.TableName)}
}

func containsFold(values []string, value string) bool {
	for _, each := range values {
		if strings.EqualFold(each, value) {
			return true
		}
	}
	return false
}
