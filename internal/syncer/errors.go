package syncer

import "errors"

// ErrUnknownEntity は同期対象として登録されていないエンティティ名を表す。
var ErrUnknownEntity = errors.New("未知のエンティティです")
