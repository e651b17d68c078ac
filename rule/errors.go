package rule

import (
	"github.com/pkg/errors"
)

// 配置类错误，调用方通过 errors.Is 判断
var (
	ErrDataSourceNotFound     = errors.New("data source not found")
	ErrTableRuleNotFound      = errors.New("table rule not found")
	ErrDataNodeNotFound       = errors.New("data node not found")
	ErrInvalidDataNode        = errors.New("invalid data node")
	ErrBindingTableMisaligned = errors.New("binding table actual tables misaligned")
	ErrInvalidStrategy        = errors.New("invalid sharding strategy")
	ErrAlgorithmNotFound      = errors.New("sharding algorithm not registered")
	ErrKeyGeneratorNotFound   = errors.New("key generator not found")
	ErrEncryptorNotFound      = errors.New("encryptor not registered")
	ErrInlineExpression       = errors.New("invalid inline expression")
)
