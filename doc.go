// Package codebattle 提供了一個雙人即時程式對戰競技場。
//
// 實現了一個房間制的程式解題對戰服務器，包含以下核心功能：
//
// 房間與配對
//
// 提供完整的對戰房間生命週期管理：
//   - 六位邀請碼私人房
//   - 隨機配對佇列（優先併入等待中的房間）
//   - 觀戰者模式（第三人起自動降級為觀戰，收到完整快照）
//   - 空房自動回收
//
// # 對戰機制
//
// 血量制的解題對抗：
//   - 雙方各 100 點血量
//   - 答對依題目難度對對手造成傷害（easy 4 / medium 15 / hard 49）
//   - 跳題扣自己血（easy 5 / medium 10 / hard 20）
//   - 任一方歸零即分出勝負
//
// # WebSocket 通訊
//
// 實現了即時雙向通訊機制：
//   - 支援心跳檢測（Ping/Pong）
//   - 事件定向：房間廣播、單播、排除發送者
//   - 對手程式碼即時鏡像
//   - 連接狀態管理與斷線清理
//
// 判題管線
//
// 不受信任程式碼的安全執行：
//   - 每個測資一個一次性 Docker 容器
//   - 無網路、非 root、記憶體 / CPU / 行程數硬上限
//   - 有界並發槽限制同時執行的沙箱數
//   - 超時回傳確定性的失敗判定，絕不懸掛呼叫端
//
// 併發安全設計
//
// 採用了多層次的併發控制策略：
//   - 房間表讀寫鎖 + 每房間互斥鎖（Mutate 為唯一變異入口）
//   - 終局 CAS 確保勝負與歷史記錄恰好一次
//   - 判題在鎖外執行，套用判定前重新驗證房間狀態
//   - 歷史落地異步進行，失敗只記日誌不回滾
//
// 使用範例
//
// 啟動服務器：
//
//	store := internal.NewStore(logger)
//	coordinator := internal.NewCoordinator(internal.CoordinatorDeps{...})
//	hub := internal.NewHub(coordinator, logger)
//	handler := internal.NewHandler(matchmaker, coordinator, store, hub, logger)
//	log.Fatal(http.ListenAndServe(":8080", handler.Routes()))
//
// 架構設計
//
// 系統採用分層架構設計：
//   - Handler 層：HTTP API 與 WebSocket 升級入口
//   - Coordinator 層：對戰事件協調與遊戲規則
//   - Store 層：房間表與每房間鎖
//   - Judge 層：判題管線與 Docker 沙箱
//
// 每層都有明確的職責邊界，透過介面進行交互，便於測試與擴展。
//
// 配置選項
//
// 支援多種運行時配置：
//   - -config：YAML 配置檔路徑
//   - -port：服務監聽端口（預設 8080）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
package codebattle
